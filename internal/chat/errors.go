package chat

import "fmt"

// Kind is the error taxonomy every ChatCore operation returns through.
type Kind int

const (
	KindUnauthenticated Kind = iota
	KindSessionExpired
	KindNoSuchUser
	KindNoSuchGuild
	KindNoSuchChannel
	KindNoSuchMessage
	KindNoSuchRole
	KindNoSuchInvite
	KindUserNotInGuild
	KindUserAlreadyInGuild
	KindPermissionDenied
	KindCantKickOrBanYourself
	KindUserBanned
	KindUserNotBanned
	KindNotAPermutation
	KindInvalidField
	KindDbError
	KindInternalServerError
)

// ServerError is the typed error every ChatCore operation returns on
// failure. Permission denial is a user-facing error, not a log-level
// event: callers should not log it above debug severity.
type ServerError struct {
	Kind       Kind
	Permission string // set for KindPermissionDenied
	ID         string // set for NoSuch*/UserNotInGuild errors
	msg        string
}

func (e *ServerError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("chat: %v", e.Kind)
}

func errUnauthenticated() error { return &ServerError{Kind: KindUnauthenticated, msg: "unauthenticated"} }

func errNoSuchGuild(id string) error {
	return &ServerError{Kind: KindNoSuchGuild, ID: id, msg: fmt.Sprintf("no such guild %s", id)}
}

func errNoSuchChannel(id string) error {
	return &ServerError{Kind: KindNoSuchChannel, ID: id, msg: fmt.Sprintf("no such channel %s", id)}
}

func errNoSuchMessage(id string) error {
	return &ServerError{Kind: KindNoSuchMessage, ID: id, msg: fmt.Sprintf("no such message %s", id)}
}

func errNoSuchRole(id string) error {
	return &ServerError{Kind: KindNoSuchRole, ID: id, msg: fmt.Sprintf("no such role %s", id)}
}

func errNoSuchInvite(id string) error {
	return &ServerError{Kind: KindNoSuchInvite, ID: id, msg: fmt.Sprintf("no such invite %s", id)}
}

func errUserNotInGuild(gid, uid string) error {
	return &ServerError{Kind: KindUserNotInGuild, ID: gid, msg: fmt.Sprintf("user %s not in guild %s", uid, gid)}
}

func errUserAlreadyInGuild() error {
	return &ServerError{Kind: KindUserAlreadyInGuild, msg: "user already in guild"}
}

func errPermissionDenied(permission, scope string) error {
	return &ServerError{Kind: KindPermissionDenied, Permission: permission, msg: fmt.Sprintf("permission denied: %s (%s)", permission, scope)}
}

func errCantKickOrBanYourself() error {
	return &ServerError{Kind: KindCantKickOrBanYourself, msg: "cannot kick or ban yourself"}
}

func errUserBanned() error { return &ServerError{Kind: KindUserBanned, msg: "user is banned"} }

func errUserNotBanned() error { return &ServerError{Kind: KindUserNotBanned, msg: "user is not banned"} }

func errNotAPermutation() error {
	return &ServerError{Kind: KindNotAPermutation, msg: "reorder sequence is not a permutation of current ids"}
}

func errInvalidField(field string) error {
	return &ServerError{Kind: KindInvalidField, msg: fmt.Sprintf("invalid field: %s", field)}
}

func errInternal(err error) error {
	return &ServerError{Kind: KindInternalServerError, msg: fmt.Sprintf("internal server error: %v", err)}
}
