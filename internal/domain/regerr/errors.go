// Package regerr implements the registry's typed error taxonomy and its
// translation to HTTP responses.
package regerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the category of a RegistryError. Kinds are not Go
// types: a single RegistryError struct carries whichever identifying
// fields its Kind needs.
type Kind int

const (
	KindIO Kind = iota
	KindGit
	KindArgon2
	KindURLParsing
	KindSamePasswords
	KindUserExists
	KindOverlappedCrateName
	KindVersionExists
	KindCrateNameNotDefined
	KindLoginsNotDefined
	KindAlreadyYanked
	KindNotYetYanked
	KindSerialization
	KindInvalidCrateName
	KindInvalidToken
	KindInvalidUser
	KindInvalidUsername
	KindInvalidLogin
	KindInvalidPassword
	KindInvalidLoginNames
	KindInvalidJSON
	KindInvalidUTF8Bytes
	KindInvalidBodyLength
	KindCrateNotFoundInDB
	KindVersionNotFoundInDB
	KindDB
	KindMultiple
	KindJoin
	KindHTTPRequest
	KindHTTPResponseBuilding
	KindInvalidHTTPResponseLength
	KindOpenID
	KindInvalidCsrfToken
)

// RegistryError is the single error type for every core operation.
// Kind-specific associated data (a crate name, a version, a list of
// missing logins, ...) is carried in the generic fields below rather
// than as one struct per kind, since most of the 30+ kinds need at
// most one or two identifying values.
type RegistryError struct {
	Kind    Kind
	Name    string
	Vers    string
	Token   string
	UserID  uint32
	Logins  []string
	Message string
	Cause   error
	Errs    []error
}

func (e *RegistryError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	switch e.Kind {
	case KindOverlappedCrateName:
		return fmt.Sprintf("overlapping crate name %q", e.Name)
	case KindVersionExists:
		return fmt.Sprintf("version %s of crate %q already exists", e.Vers, e.Name)
	case KindCrateNotFoundInDB:
		return fmt.Sprintf("crate %q not found", e.Name)
	case KindVersionNotFoundInDB:
		return fmt.Sprintf("version %s not found", e.Vers)
	case KindInvalidToken:
		return fmt.Sprintf("invalid token %q", e.Token)
	case KindInvalidUser:
		return fmt.Sprintf("invalid user %d", e.UserID)
	case KindUserExists:
		return fmt.Sprintf("login %q already exists", e.Name)
	case KindAlreadyYanked:
		return fmt.Sprintf("crate %q version %s already yanked", e.Name, e.Vers)
	case KindNotYetYanked:
		return fmt.Sprintf("crate %q version %s not yet yanked", e.Name, e.Vers)
	case KindInvalidLoginNames:
		return fmt.Sprintf("invalid login names: %v", e.Logins)
	case KindMultiple:
		return fmt.Sprintf("multiple errors: %v", e.Errs)
	default:
		if e.Cause != nil {
			return e.Cause.Error()
		}

		return "registry error"
	}
}

func (e *RegistryError) Unwrap() error { return e.Cause }

func wrap(kind Kind, cause error) *RegistryError {
	return &RegistryError{Kind: kind, Cause: cause}
}

func WrapIO(err error) error           { return wrap(KindIO, err) }
func WrapGit(err error) error          { return wrap(KindGit, err) }
func WrapArgon2(err error) error       { return wrap(KindArgon2, err) }
func WrapURLParsing(err error) error   { return wrap(KindURLParsing, err) }
func WrapSerialization(err error) error { return wrap(KindSerialization, err) }
func WrapDB(err error) error           { return wrap(KindDB, err) }
func WrapHTTPRequest(err error) error  { return wrap(KindHTTPRequest, err) }

func ErrSamePasswords() error { return &RegistryError{Kind: KindSamePasswords} }

func ErrUserExists(login string) error {
	return &RegistryError{Kind: KindUserExists, Name: login}
}

func ErrOverlappedCrateName(name string) error {
	return &RegistryError{Kind: KindOverlappedCrateName, Name: name}
}

func ErrVersionExists(name, vers string) error {
	return &RegistryError{Kind: KindVersionExists, Name: name, Vers: vers}
}

func ErrCrateNameNotDefined() error {
	return &RegistryError{Kind: KindCrateNameNotDefined}
}

func ErrLoginsNotDefined() error {
	return &RegistryError{Kind: KindLoginsNotDefined}
}

func ErrAlreadyYanked(name, vers string) error {
	return &RegistryError{Kind: KindAlreadyYanked, Name: name, Vers: vers}
}

func ErrNotYetYanked(name, vers string) error {
	return &RegistryError{Kind: KindNotYetYanked, Name: name, Vers: vers}
}

func ErrInvalidCrateName(name string) error {
	return &RegistryError{Kind: KindInvalidCrateName, Name: name}
}

func ErrInvalidToken(tok string) error {
	return &RegistryError{Kind: KindInvalidToken, Token: tok}
}

func ErrInvalidUser(id uint32) error {
	return &RegistryError{Kind: KindInvalidUser, UserID: id}
}

func ErrInvalidUsername(name string) error {
	return &RegistryError{Kind: KindInvalidUsername, Name: name}
}

func ErrInvalidLogin(login string) error {
	return &RegistryError{Kind: KindInvalidLogin, Name: login}
}

func ErrInvalidPassword() error {
	return &RegistryError{Kind: KindInvalidPassword}
}

func ErrInvalidLoginNames(missing []string) error {
	return &RegistryError{Kind: KindInvalidLoginNames, Logins: missing}
}

func ErrInvalidJSON(err error) error {
	return &RegistryError{Kind: KindInvalidJSON, Cause: err}
}

func ErrInvalidUTF8Bytes(err error) error {
	return &RegistryError{Kind: KindInvalidUTF8Bytes, Cause: err}
}

func ErrInvalidBodyLength(n int) error {
	return &RegistryError{Kind: KindInvalidBodyLength, Message: fmt.Sprintf("invalid body length: %d", n)}
}

func ErrCrateNotFoundInDB(name string) error {
	return &RegistryError{Kind: KindCrateNotFoundInDB, Name: name}
}

func ErrVersionNotFoundInDB(vers string) error {
	return &RegistryError{Kind: KindVersionNotFoundInDB, Vers: vers}
}

func ErrMultiple(errs []error) error {
	return &RegistryError{Kind: KindMultiple, Errs: errs}
}

func ErrOpenID(msg string) error {
	return &RegistryError{Kind: KindOpenID, Message: msg}
}

func ErrInvalidCsrfToken() error {
	return &RegistryError{Kind: KindInvalidCsrfToken}
}

func ErrInvalidHTTPResponseLength() error {
	return &RegistryError{Kind: KindInvalidHTTPResponseLength}
}

// As reports whether err is (or wraps) a *RegistryError and, if so,
// returns it.
func As(err error) (*RegistryError, bool) {
	var re *RegistryError
	if errors.As(err, &re) {
		return re, true
	}

	return nil, false
}
