package protocol

import "fmt"

// Arbitration messages returned by the coordinator in Response.Error.
const (
	MsgUnknownUser       = "!user"
	MsgUnknownGame       = "!game"
	MsgUserAlreadyPlayer = "User already active as player (based on latest record)"
	MsgLeaveJoinNotFound = "Join record not found for this leave operation"
	MsgMoveJoinNotFound  = "Active player join record not found for this move"
	MsgMoveJoinMismatch  = "Join record side/role does not match this move"
	MsgMoveNotPlayer     = "Only players can move"
	MsgPlayerNeedsSide   = "Player role requires side 1 or 2"
	MsgInternal          = "Internal server error"
	MsgMissingMove       = "!move"

	RecommendSync = "sync"
)

func MsgUnknownOperation(op Operation) string {
	return fmt.Sprintf("unknown operation %q", string(op))
}

func MsgGameExists(gameID string) string {
	return fmt.Sprintf("gameId=%s already exists", gameID)
}

func MsgJoinExists(joinID string) string {
	return fmt.Sprintf("joinId=%s already exists", joinID)
}

func MsgSideTaken(side Side) string {
	return fmt.Sprintf("Side %d already taken by an active player (based on latest record)", int(side))
}

func MsgNotPlayable(status Status) string {
	return fmt.Sprintf("Game not playable (status: %s)", status)
}

func MsgNotJoinable(status Status) string {
	return fmt.Sprintf("Game not joinable (status: %s)", status)
}

func MsgInvalidSide(side Side) string {
	return fmt.Sprintf("Invalid side %d", int(side))
}

func MsgInvalidRole(role Role) string {
	return fmt.Sprintf("Invalid role %d", int(role))
}

// ResponseError is a coordinator rejection surfaced to a participant. Data,
// when present, is the unchanged authoritative view.
type ResponseError struct {
	Message   string
	Recommend string
	Data      *Data
}

func (e *ResponseError) Error() string {
	if e.Recommend != "" {
		return fmt.Sprintf("%s (recommend: %s)", e.Message, e.Recommend)
	}
	return e.Message
}

// Err converts a failed response into a *ResponseError, or nil when OK.
func (r Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return &ResponseError{Message: r.Error, Recommend: r.Recommend, Data: r.Data}
}
