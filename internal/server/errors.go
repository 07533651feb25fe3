package server

import "fmt"

// Error codes for client-side failures.
const (
	CodeNet     = "ERR_NET"
	CodeTimeout = "ERR_TIMEOUT"
	CodeServer  = "ERR_SERVER"

	CodeGamePathNotFound = "ERR_GAME_PATH_NOT_FOUND"
	CodeSavePathNotFound = "ERR_GAME_SAVE_PATH_NOT_FOUND"
	CodeExeNotFound      = "ERR_GAME_EXE_NOT_FOUND"
)

// Expected business-error codes reported by the server.
const (
	CodeDuplicateRegister = "ERR_DUPLICATE_REGISTER"
	CodeUsernameNotFound  = "ERR_USERNAME_NOT_FOUND"
	CodeWrongPassword     = "ERR_WRONG_PASSWORD"
	CodeParametersInvalid = "ERR_PARAMETERS_INVALID"
	CodeNotLogin          = "ERR_NOT_LOGIN"
	CodeAccountDisabled   = "ERR_ACCOUNT_DISABLED"
	CodeNicknameLength    = "ERR_NICKNAME_LENGTH"
	CodeGameNotFound      = "ERR_GAME_NOT_FOUND"
	CodeGameSaveNotFound  = "ERR_GAME_SAVE_NOT_FOUND"
	CodeFileSpaceLimit    = "ERR_FILE_SPACE_LIMIT"
	CodeSpaceNotEnough    = "ERR_SPACE_NOT_ENOUGH"
	CodeAuthDeny          = "ERR_AUTH_DENY"
	CodeServerInternal    = "ERR_SERVER_INTERNAL"
)

// errorStrings maps machine codes to user-facing text. Unknown codes fall
// back to the raw code.
var errorStrings = map[string]string{
	CodeNet:              "a network error occurred",
	CodeTimeout:          "the request timed out",
	CodeGamePathNotFound: "the game folder no longer exists",
	CodeSavePathNotFound: "the save folder no longer exists",
	CodeExeNotFound:      "no executable was found in the game folder",

	CodeAccountDisabled: "this account has been disabled",
	CodeNotLogin:        "not signed in",
	CodeWrongPassword:   "wrong password",
	CodeServerInternal:  "the server hit an error, try again later",
	CodeNicknameLength:  "nickname length is invalid",
	CodeAuthDeny:        "not allowed to perform this operation",
	CodeSpaceNotEnough:  "not enough cloud storage space",
	CodeFileSpaceLimit:  "the save archive is too large",
}

// MessageForCode resolves a machine code to display text, falling back to
// the code itself.
func MessageForCode(code string) string {
	if s, ok := errorStrings[code]; ok {
		return s
	}
	return code
}

// NetError reports a lost or unusable connection. Every pending correlated
// call is rejected with one when the socket drops.
type NetError struct {
	Reason string
}

func (e *NetError) Error() string {
	if e.Reason == "" {
		return CodeNet
	}
	return fmt.Sprintf("%s: %s", CodeNet, e.Reason)
}

// TimeoutError reports a correlated call whose deadline fired. Distinct from
// NetError so callers can retry differently.
type TimeoutError struct{}

func (e *TimeoutError) Error() string { return CodeTimeout }

// UserError is an expected business error carrying a machine code suitable
// for string-table lookup.
type UserError struct {
	Code    string
	Message string
}

func (e *UserError) Error() string { return e.Code }

// ShowMessage renders the user-facing text for the error's code.
func (e *UserError) ShowMessage() string { return MessageForCode(e.Code) }

// ServerError wraps any unexpected server-reported failure.
type ServerError struct {
	Code string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", CodeServer, e.Code)
}
