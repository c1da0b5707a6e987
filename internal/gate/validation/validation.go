// Package validation checks the shape of the JSON objects accepted by the
// gate endpoints. Keys are checked in declared order and the first failure
// wins, so clients can point the user at a single field.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"

	"votegate/internal/gate/models"
	dErrors "votegate/pkg/domain-errors"
)

var (
	tokenRx      = regexp.MustCompile(`^[0-9A-Z]{8}$`)
	identifierRx = regexp.MustCompile(`^[0-9]+#[0-9]+$`)
	hmacRx       = regexp.MustCompile(`^[0-9a-f]{40}$`)
	nationalIDRx = regexp.MustCompile(`^([0-9]{8}|[XYZ][0-9]{7})[A-Z]$`)
)

const nationalIDLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
)

type field struct {
	name     string
	kind     kind
	optional bool
	rules    []validation.Rule
}

// Options configures the phone number rules.
type Options struct {
	// AllowedTlfPattern is matched against every phone number.
	AllowedTlfPattern string
	// StrictPhone additionally requires a number valid for its region.
	StrictPhone   bool
	DefaultRegion string
}

// Validator checks request bodies for the three gate operations.
type Validator struct {
	register []field
	smsAuth  []field
	notify   []field
}

// New compiles the phone pattern and builds the per-operation key lists.
func New(opts Options) (*Validator, error) {
	tlfRx, err := regexp.Compile(opts.AllowedTlfPattern)
	if err != nil {
		return nil, fmt.Errorf("compile allowed phone pattern: %w", err)
	}
	tlfRules := []validation.Rule{validation.Required, validation.Match(tlfRx)}
	if opts.StrictPhone {
		tlfRules = append(tlfRules, validation.By(validPhone(opts.DefaultRegion)))
	}
	dni := field{name: "dni", kind: kindString, optional: true, rules: []validation.Rule{
		validation.Required, validation.By(validNationalID),
	}}

	return &Validator{
		register: []field{
			{name: "first_name", kind: kindString, rules: []validation.Rule{validation.Required, validation.RuneLength(3, 60)}},
			{name: "last_name", kind: kindString, rules: []validation.Rule{validation.Required, validation.RuneLength(3, 100)}},
			{name: "email", kind: kindString, rules: []validation.Rule{validation.Required, is.Email}},
			{name: "postal_code", kind: kindInt, rules: []validation.Rule{validation.Required, validation.Min(1), validation.Max(100000)}},
			{name: "tlf", kind: kindString, rules: tlfRules},
			{name: "receive_updates", kind: kindBool},
			dni,
		},
		smsAuth: []field{
			{name: "tlf", kind: kindString, rules: tlfRules},
			{name: "token", kind: kindString, rules: []validation.Rule{validation.Required, validation.Match(tokenRx)}},
			dni,
		},
		notify: []field{
			{name: "identifier", kind: kindString, rules: []validation.Rule{validation.Required, validation.Match(identifierRx)}},
			{name: "sha1_hmac", kind: kindString, rules: []validation.Rule{validation.Required, validation.Match(hmacRx)}},
		},
	}, nil
}

// Register validates a registration body.
func (v *Validator) Register(body []byte) (models.Identity, error) {
	values, err := check(body, v.register)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{
		FirstName:      values["first_name"].(string),
		LastName:       values["last_name"].(string),
		Email:          values["email"].(string),
		PostalCode:     int(values["postal_code"].(int64)),
		Tlf:            values["tlf"].(string),
		NationalID:     optionalString(values, "dni"),
		ReceiveUpdates: values["receive_updates"].(bool),
	}, nil
}

// SMSAuth validates a token redemption body.
func (v *Validator) SMSAuth(body []byte) (tlf, nationalID, token string, err error) {
	values, err := check(body, v.smsAuth)
	if err != nil {
		return "", "", "", err
	}
	return values["tlf"].(string), optionalString(values, "dni"), values["token"].(string), nil
}

// Notify validates a vote-cast callback body.
func (v *Validator) Notify(body []byte) (identifier, proof string, err error) {
	values, err := check(body, v.notify)
	if err != nil {
		return "", "", err
	}
	return values["identifier"].(string), values["sha1_hmac"].(string), nil
}

func check(body []byte, fields []field) (map[string]any, error) {
	data, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		raw, ok := data[f.name]
		if !ok {
			if f.optional {
				continue
			}
			return nil, invalidKey(f.name)
		}
		value, ok := coerce(raw, f.kind)
		if !ok {
			return nil, invalidKey(f.name)
		}
		if err := validation.Validate(value, f.rules...); err != nil {
			return nil, invalidKey(f.name)
		}
		out[f.name] = value
	}

	var unknown []string
	for key := range data {
		if !slices.ContainsFunc(fields, func(f field) bool { return f.name == key }) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, dErrors.New(dErrors.CodeUnknownKeys,
			"Invalid keys appear in input data: "+strings.Join(unknown, ", "))
	}
	return out, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotJSON, "request body is not a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, dErrors.New(dErrors.CodeNotJSON, "request body is not a JSON object")
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotJSON, "request body is not a JSON object")
	}
	return data, nil
}

func coerce(raw any, k kind) (any, bool) {
	switch k {
	case kindString:
		s, ok := raw.(string)
		return s, ok
	case kindBool:
		b, ok := raw.(bool)
		return b, ok
	case kindInt:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, false
		}
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return nil, false
		}
		return i, true
	}
	return nil, false
}

func invalidKey(name string) error {
	return dErrors.NewField(dErrors.CodeInvalidKeyConstraint, name, fmt.Sprintf("Invalid input for '%s'", name))
}

func optionalString(values map[string]any, key string) string {
	if s, ok := values[key].(string); ok {
		return s
	}
	return ""
}

func validPhone(region string) func(value any) error {
	return func(value any) error {
		s, _ := value.(string)
		num, err := phonenumbers.Parse(s, region)
		if err != nil || !phonenumbers.IsValidNumber(num) {
			return errors.New("not a valid phone number")
		}
		return nil
	}
}

// ValidNationalID reports whether s is a Spanish DNI or NIE with a correct
// check letter.
func ValidNationalID(s string) bool {
	if !nationalIDRx.MatchString(s) {
		return false
	}
	digits := strings.NewReplacer("X", "0", "Y", "1", "Z", "2").Replace(s[:len(s)-1])
	n, err := strconv.Atoi(digits)
	if err != nil {
		return false
	}
	return nationalIDLetters[n%23] == s[len(s)-1]
}

func validNationalID(value any) error {
	s, _ := value.(string)
	if !ValidNationalID(s) {
		return errors.New("invalid national identity document")
	}
	return nil
}
