package godiscover

import (
	"encoding/json"

	"github.com/dataplume/godiscover/utils"

	"go.uber.org/zap"
)

// ResponseFormat defines the search response format to be requested and decoded.
type ResponseFormat string

const (
	// FormatJSON is the plain JSON format with the records nested under feed.entry.
	FormatJSON ResponseFormat = "json"
	// FormatUMMJSON is the UMM JSON format with the records nested under items[].umm.
	FormatUMMJSON ResponseFormat = "umm_json"
	// FormatEcho10 is the ECHO10 XML format with the records nested under results.result.
	FormatEcho10 ResponseFormat = "echo10"
)

// String converts a ResponseFormat to string.
func (f ResponseFormat) String() string {
	return string(f)
}

// RawRecord is one format-specific catalog record as decoded from a search response.
type RawRecord map[string]interface{}

// DecodeRecords extracts the flat record sequence out of the format-specific envelope
// of the passed response body. A body that cannot be decoded in the requested format
// is a configuration error, not a transient failure: the raw body is preserved in the
// result error for diagnosis.
func DecodeRecords(format ResponseFormat, body []byte, logger *zap.Logger) ([]RawRecord, error) {
	switch format {
	case FormatJSON:
		return decodeJSONRecords(body)
	case FormatUMMJSON:
		return decodeUMMJSONRecords(body)
	case FormatEcho10:
		return decodeEcho10Records(body, logger)
	default:
		return nil, &DecodeError{Format: format, Body: string(body), Err: errUnsupportedFormat}
	}
}

// errUnsupportedFormat is returned for response formats the decoder does not know.
var errUnsupportedFormat = jsonError("unsupported response format")

// jsonError is a plain string error used by the decoder.
type jsonError string

// Error makes the jsonError type implement the error interface.
func (e jsonError) Error() string {
	return string(e)
}

// decodeJSONRecords extracts the records of a plain JSON envelope: the feed.entry
// array when present, an empty sequence otherwise.
func decodeJSONRecords(body []byte) ([]RawRecord, error) {
	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DecodeError{Format: FormatJSON, Body: string(body), Err: err}
	}
	feed, ok := envelope["feed"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	entries, ok := feed["entry"].([]interface{})
	if !ok {
		return nil, nil
	}
	return collectRecords(entries), nil
}

// decodeUMMJSONRecords extracts the records of an UMM JSON envelope by mapping each
// items entry to its nested umm sub-object.
func decodeUMMJSONRecords(body []byte) ([]RawRecord, error) {
	var envelope struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DecodeError{Format: FormatUMMJSON, Body: string(body), Err: err}
	}
	records := make([]RawRecord, 0, len(envelope.Items))
	for _, item := range envelope.Items {
		if umm, ok := item["umm"].(map[string]interface{}); ok {
			records = append(records, RawRecord(umm))
		}
	}
	return records, nil
}

// decodeEcho10Records extracts the records of an ECHO10 XML envelope: the elements of
// the results.result path with the outer single-key element wrapper stripped. A body
// that fails to parse as XML is decoded as the plain JSON envelope instead; if that
// fails as well, the original XML parse error wins with the raw body logged.
func decodeEcho10Records(body []byte, logger *zap.Logger) ([]RawRecord, error) {
	document, err := utils.DecodeXMLMap(body)
	if err != nil {
		if records, jsonErr := decodeJSONRecords(body); jsonErr == nil {
			return records, nil
		}
		logger.Error("failed to decode an echo10 response",
			zap.NamedError("error_message", err),
			zap.String("body", string(body)),
		)
		return nil, &DecodeError{Format: FormatEcho10, Body: string(body), Err: err}
	}
	results, ok := document["results"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	result, ok := results["result"]
	if !ok {
		return nil, nil
	}
	elements, ok := result.([]interface{})
	if !ok {
		elements = []interface{}{result}
	}
	records := make([]RawRecord, 0, len(elements))
	for _, element := range elements {
		entry, ok := element.(map[string]interface{})
		if !ok {
			continue
		}
		records = append(records, RawRecord(stripWrapper(entry)))
	}
	return records, nil
}

// stripWrapper removes the outer single-key element wrapper (e.g. {Granule: {...}}
// becomes {...}) of a decoded ECHO10 record.
func stripWrapper(record map[string]interface{}) map[string]interface{} {
	if len(record) != 1 {
		return record
	}
	for _, wrapped := range record {
		if inner, ok := wrapped.(map[string]interface{}); ok {
			return inner
		}
	}
	return record
}

// collectRecords converts a decoded JSON array into the record sequence, skipping
// entries that are not objects.
func collectRecords(entries []interface{}) []RawRecord {
	records := make([]RawRecord, 0, len(entries))
	for _, entry := range entries {
		if record, ok := entry.(map[string]interface{}); ok {
			records = append(records, RawRecord(record))
		}
	}
	return records
}
