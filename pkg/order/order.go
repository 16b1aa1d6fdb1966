// Package order holds the wire types that flow through the relay: the order
// submission accepted over HTTP, the event published to the broker, and the
// minimal view of an execution report needed for targeted delivery.
package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Side is the FIX-style side code carried by clients ("1" buy, "2" sell).
// It is echoed as sent and never checked.
type Side string

const (
	SideBuy  Side = "1"
	SideSell Side = "2"
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	case "":
		return "unspecified"
	default:
		return "unknown(" + string(s) + ")"
	}
}

// Submission is the body of POST /order.
// Numbers stay json.Number so the literal the client sent is what gets published.
type Submission struct {
	UserID   string      `json:"userId" validate:"required"`
	Symbol   string      `json:"symbol" validate:"required"`
	Quantity json.Number `json:"quantity" validate:"required"`
	Price    json.Number `json:"price" validate:"required"`
	Side     Side        `json:"side,omitempty"`
}

// Event is what the ingress publishes on the order topic.
type Event struct {
	UserID    string      `json:"userId"`
	Symbol    string      `json:"symbol"`
	Quantity  json.Number `json:"quantity"`
	Price     json.Number `json:"price"`
	Side      Side        `json:"side,omitempty"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds
}

// NewEvent copies the submission and stamps it with at.
func NewEvent(s Submission, at time.Time) Event {
	return Event{
		UserID:    s.UserID,
		Symbol:    s.Symbol,
		Quantity:  s.Quantity,
		Price:     s.Price,
		Side:      s.Side,
		Timestamp: at.UnixMilli(),
	}
}

// ErrMissingFields matches any *ValidationError via errors.Is.
var ErrMissingFields = errors.New("missing fields")

// ValidationError lists the JSON names of required fields that were absent.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing fields: %s", strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrMissingFields }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports absent, null or empty required fields.
func (s Submission) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &ValidationError{Fields: fields}
}

// ErrNotObject is returned for report payloads that are valid JSON but not an object.
var ErrNotObject = errors.New("report is not a JSON object")

// ReportUserID parses payload as a JSON object and returns its "userId" when that
// is a string. A missing or non-string userId yields "" without error.
func ReportUserID(payload []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return "", ErrNotObject
		}
		return "", err
	}
	if fields == nil {
		return "", ErrNotObject
	}
	raw, ok := fields["userId"]
	if !ok {
		return "", nil
	}
	var userID string
	if err := json.Unmarshal(raw, &userID); err != nil {
		return "", nil
	}
	return userID, nil
}
