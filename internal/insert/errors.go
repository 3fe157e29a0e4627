// Package insert implements the request parsing, local application,
// cluster fan-out, and replication stages of the insertion data path.
package insert

import "fmt"

// ErrCode enumerates the parse-time error taxonomy from the original
// siridb_insert_err_msg table. Each code carries the exact client-visible
// message the original used, so client behavior built against those strings
// keeps working.
type ErrCode int

const (
	ErrNone ErrCode = iota
	ErrInvalidSchema
	ErrSeriesNameInvalid
	ErrTimestampInvalid
	ErrTimestampOutOfRange
	ErrValueTypeInvalid
	ErrEmptySeries
	ErrEmptyPointsList
	ErrMismatchingArrayLength
	ErrNameAndPointsExpected
	ErrDuplicateSeries
	ErrMaxInsertMsgExceeded
)

var errMessages = map[ErrCode]string{
	ErrInvalidSchema:          "invalid request, expected a map or array at the top level",
	ErrSeriesNameInvalid:      "series name is missing or not a string",
	ErrTimestampInvalid:       "timestamp must be a non-negative integer",
	ErrTimestampOutOfRange:    "timestamp is outside the database's configured range",
	ErrValueTypeInvalid:       "point value must be an integer, a float or raw bytes",
	ErrEmptySeries:            "series name must not be empty",
	ErrEmptyPointsList:        "points list must not be empty",
	ErrMismatchingArrayLength: "array-shape point must have exactly two elements",
	ErrNameAndPointsExpected:  "array-shape entry must have both a name and a points array",
	ErrDuplicateSeries:        "series name appears more than once in this request",
	ErrMaxInsertMsgExceeded:   "insert request exceeds the maximum allowed message size",
}

// ParseError is returned for every request-shape problem detected while
// parsing an insert payload, mirroring siridb_insert_err_msg.
type ParseError struct {
	Code ErrCode
	Series string // set when the error is scoped to one series, else ""
}

func (e *ParseError) Error() string {
	msg, ok := errMessages[e.Code]
	if !ok {
		msg = "unknown insert error"
	}
	if e.Series != "" {
		return fmt.Sprintf("%s (series %q)", msg, e.Series)
	}
	return msg
}

func newParseErr(code ErrCode) error { return &ParseError{Code: code} }

func newParseErrFor(code ErrCode, series string) error {
	return &ParseError{Code: code, Series: series}
}
