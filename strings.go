package roundtable

import (
	"errors"
	"strings"

	"golang.org/x/text/secure/precis"
)

var (
	errStringIsEmpty     = errors.New("string is empty")
	errInvalidCharacter  = errors.New("invalid character")
	errNameTooLong       = errors.New("name is too long")
	errCouldNotStabilize = errors.New("could not stabilize string while casefolding")
)

// Each pass of PRECIS casefolding is a composition of idempotent
// operations, but not idempotent itself, so fold until the output
// stabilizes (or give up after four passes).
func iterateFolding(profile *precis.Profile, oldStr string) (str string, err error) {
	str = oldStr
	for i := 0; i < 4; i++ {
		str, err = profile.CompareKey(str)
		if err != nil {
			return "", err
		}
		if oldStr == str {
			break
		}
		oldStr = str
	}
	if oldStr != str {
		return "", errCouldNotStabilize
	}
	return str, nil
}

// Casefold returns a casefolded string, without doing any name or
// channel character checks.
func Casefold(str string) (string, error) {
	return iterateFolding(precis.UsernameCaseMapped, str)
}

// CasefoldNickname validates a nickname and returns its casefolded
// form, which is what the directory's uniqueness index stores.
func CasefoldNickname(name string, maxLen int) (string, error) {
	if len(name) == 0 {
		return "", errStringIsEmpty
	}
	if len(name) > maxLen {
		return "", errNameTooLong
	}
	// # and & lead room names; space, comma and colon break the line
	// grammar.
	if name[0] == '#' || name[0] == '&' || name[0] == ':' {
		return "", errInvalidCharacter
	}
	if strings.ContainsAny(name, " ,:") {
		return "", errInvalidCharacter
	}
	return Casefold(name)
}

// foldRoomSegment lowers a bare group or channel segment (without the
// & or # sigil) for use as a registry key.
func foldRoomSegment(name string, maxLen int) (string, error) {
	if len(name) == 0 {
		return "", errStringIsEmpty
	}
	if len(name) > maxLen {
		return "", errNameTooLong
	}
	if strings.ContainsAny(name, " ,:/") {
		return "", errInvalidCharacter
	}
	return strings.ToLower(name), nil
}
