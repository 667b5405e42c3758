package paramstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParameterNotFound is matched by both NotFoundError and AmbiguousError,
	// since neither resolves to a single parameter.
	ErrParameterNotFound = errors.New("parameter not found")
	ErrAmbiguous         = errors.New("ambiguous parameter query")
	ErrDuplicateKey      = errors.New("parameter with identical tags already exists")
)

// NotFoundError reports a query that matched nothing.
type NotFoundError struct {
	Query       Query
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("no parameter matches %s", e.Query)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean: %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrParameterNotFound
}

// AmbiguousError reports a query that matched more than one parameter.
type AmbiguousError struct {
	Query   Query
	Matches []string
}

func (e *AmbiguousError) Error() string {
	const maxListed = 6
	matches := e.Matches
	suffix := ""
	if len(matches) > maxListed {
		matches = matches[:maxListed]
		suffix = ", ..."
	}
	return fmt.Sprintf("%d parameters match %s: %s%s", len(e.Matches), e.Query, strings.Join(matches, ", "), suffix)
}

func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous || target == ErrParameterNotFound
}
