package aggregator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// Response is a decoded aggregator reply. Every reply is an envelope of the
// form {"spHeader": {...}, "spData": {...}}.
type Response struct {
	Endpoint   string
	StatusCode int
	Body       []byte
	doc        interface{}
}

// NewResponse decodes body as an aggregator reply without checking spHeader.
func NewResponse(endpoint string, status int, body []byte) (*Response, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, &RemoteError{
			Endpoint:   endpoint,
			StatusCode: status,
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}

	return &Response{
		Endpoint:   endpoint,
		StatusCode: status,
		Body:       body,
		doc:        doc,
	}, nil
}

// Get evaluates a JSONPath expression such as "$.spData.networth".
func (r *Response) Get(path string) (interface{}, error) {
	v, err := jsonpath.Get(path, r.doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	// jsonpath may wrap a single match in a list
	if list, ok := v.([]interface{}); ok && len(list) == 1 {
		v = list[0]
	}
	return v, nil
}

// String returns the string at path, or false when it is absent or not a string.
func (r *Response) String(path string) (string, bool) {
	v, err := r.Get(path)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the boolean at path, or false when it is absent.
func (r *Response) Bool(path string) (value bool, found bool) {
	v, err := r.Get(path)
	if err != nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Decimal returns the number at path without going through float64.
func (r *Response) Decimal(path string) (decimal.Decimal, error) {
	v, err := r.Get(path)
	if err != nil {
		return decimal.Zero, err
	}
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", path, err)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", path, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%s has type %T, want number", path, v)
	}
}

// Decode unmarshals the subtree at path into v.
func (r *Response) Decode(path string, v interface{}) error {
	sub, err := jsonpath.Get(path, r.doc)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("%s: re-encoding: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// headerError inspects spHeader and returns a RemoteError when the
// aggregator reported failure.
func (r *Response) headerError() error {
	success, found := r.Bool("$.spHeader.success")
	if !found || success {
		return nil
	}

	e := &RemoteError{Endpoint: r.Endpoint, StatusCode: r.StatusCode}
	if code, err := r.Decimal("$.spHeader.errors[0].code"); err == nil {
		e.Code = int(code.IntPart())
	}
	if msg, ok := r.String("$.spHeader.errors[0].message"); ok {
		e.Message = msg
	}
	if unauthorizedCodes[e.Code] {
		e.Err = ErrUnauthorized
	}
	return e
}
