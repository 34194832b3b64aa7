package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dkeye/Slicer/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrMalformed marks bodies that are not JSON or carry wrongly typed fields.
// It always comes wrapped together with domain.ErrProtocol.
var ErrMalformed = errors.New("malformed message")

// Encode marshals m with its action tag filled in.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Ready:
		v.Action = ActionReady
		return json.Marshal(v)
	case Probe:
		v.Action = ActionProbe
		return json.Marshal(v)
	case Fragment:
		v.Action = ActionFragment
		return json.Marshal(v)
	case Error:
		v.Action = ActionError
		return json.Marshal(v)
	case Start:
		v.Action = ActionStart
		return json.Marshal(v)
	case Stream:
		v.Action = ActionStream
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}
}

// Decode parses and validates any message. Every failure wraps
// domain.ErrProtocol.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrProtocol, ErrMalformed, err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: missing action", domain.ErrProtocol)
	}

	switch env.Action {
	case ActionReady:
		return decodeAs[Ready](data)
	case ActionProbe:
		return decodeAs[Probe](data)
	case ActionFragment:
		return decodeAs[Fragment](data)
	case ActionError:
		return decodeAs[Error](data)
	case ActionStart:
		return decodeAs[Start](data)
	case ActionStream:
		return decodeAs[Stream](data)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrProtocol, env.Action)
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w: %s: %v", domain.ErrProtocol, ErrMalformed, v.Kind(), err)
	}
	if err := validate.Struct(v); err != nil {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrProtocol, v.Kind(), describe(err))
	}
	return v, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
	}
	return "missing " + strings.Join(fields, ", ")
}
