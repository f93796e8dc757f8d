package utils

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DecodeXMLMap parses raw XML data into nested maps keyed by element names.
// Element attributes are ignored. Repeated sibling elements are collected
// into a slice, text-only elements become strings. The result is a map
// containing the document root element as its single key.
func DecodeXMLMap(data []byte, opts ...decodeOpt) (map[string]interface{}, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for _, opt := range opts {
		opt(decoder)
	}
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("no root element has been found in the data")
		}
		if err != nil {
			return nil, err
		}
		if start, ok := token.(xml.StartElement); ok {
			value, err := decodeElement(decoder, start)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{start.Name.Local: value}, nil
		}
	}
}

// decodeOpt is an optional modifier for decoders used in the DecodeXMLMap func.
type decodeOpt func(d *xml.Decoder)

// WithCharsetReader sets the charsetReader to the decoder CharsetReader.
func WithCharsetReader(charsetReader func(charset string, input io.Reader) (io.Reader, error)) decodeOpt {
	return func(d *xml.Decoder) {
		d.CharsetReader = charsetReader
	}
}

// WithStrict sets the decoder Strict to the passed strict value.
func WithStrict(strict bool) decodeOpt {
	return func(d *xml.Decoder) {
		d.Strict = strict
	}
}

// decodeElement consumes the decoder tokens up to the start element closing tag and returns
// the element content either as a map of its children or, for childless elements, as the
// trimmed element text.
func decodeElement(d *xml.Decoder, start xml.StartElement) (interface{}, error) {
	children := make(map[string]interface{})
	var text strings.Builder
	for {
		token, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			child, err := decodeElement(d, t)
			if err != nil {
				return nil, err
			}
			appendChild(children, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) > 0 {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}

// appendChild registers the child value under the passed name. A repeated name turns
// the stored value into a slice of all the values met so far, in the document order.
func appendChild(children map[string]interface{}, name string, value interface{}) {
	existing, ok := children[name]
	if !ok {
		children[name] = value
		return
	}
	if list, ok := existing.([]interface{}); ok {
		children[name] = append(list, value)
		return
	}
	children[name] = []interface{}{existing, value}
}
