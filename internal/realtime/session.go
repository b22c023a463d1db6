package realtime

// Client-originated events. Join and leave manage room membership; the
// rest are relayed verbatim to the other members of the protocol room
// with the sender's connection id appended, so peers can tell presence
// cursors apart when one user has several tabs open.
const (
	evJoinProtocol   = "join-protocol"
	evLeaveProtocol  = "leave-protocol"
	evJoinGroup      = "join-group"
	evProtocolUpdate = "protocol-update"
	evCursorPosition = "cursor-position"
	evTypingStart    = "typing-start"
	evTypingStop     = "typing-stop"
)

func (h *Hub) dispatch(c *Client, ev Event) {
	switch ev.Name {
	case evJoinProtocol:
		id, ok := stringField(ev.Payload, "protocolId")
		if !ok {
			return
		}
		room := protocolRoom(id)
		h.join(c, room)
		h.broadcast(room, Event{Name: "user-joined", Payload: map[string]any{
			"socketId":   c.ID,
			"userId":     c.UserID,
			"protocolId": id,
		}}, c.ID)
	case evLeaveProtocol:
		id, ok := stringField(ev.Payload, "protocolId")
		if !ok {
			return
		}
		room := protocolRoom(id)
		h.leave(c, room)
		h.broadcast(room, Event{Name: "user-left", Payload: map[string]any{
			"socketId":   c.ID,
			"userId":     c.UserID,
			"protocolId": id,
		}}, c.ID)
	case evJoinGroup:
		id, ok := stringField(ev.Payload, "groupId")
		if !ok {
			return
		}
		h.join(c, groupRoom(id))
	case evProtocolUpdate:
		h.relay(c, ev, "protocol-updated")
	case evCursorPosition:
		h.relay(c, ev, "cursor-moved")
	case evTypingStart:
		h.relay(c, ev, "user-typing")
	case evTypingStop:
		h.relay(c, ev, "user-stopped-typing")
	default:
		h.logger.Printf("realtime: client %s sent unknown event %q", c.ID, ev.Name)
	}
}

// relay forwards a collaboration event to the rest of the sender's
// protocol room under the outbound name. The payload is passed through
// untouched apart from the appended socketId.
func (h *Hub) relay(c *Client, ev Event, outbound string) {
	id, ok := stringField(ev.Payload, "protocolId")
	if !ok {
		return
	}
	payload := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	payload["socketId"] = c.ID
	h.broadcast(protocolRoom(id), Event{Name: outbound, Payload: payload}, c.ID)
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
