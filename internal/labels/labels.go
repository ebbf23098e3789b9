package labels

import (
	"encoding/json"
	"errors"
)

// Error kinds shared by every stage of the labeling pipeline.
var (
	ErrRead    = errors.New("image read failed")
	ErrService = errors.New("inference service failed")
	ErrParse   = errors.New("invalid JSON response")
	ErrWrite   = errors.New("result write failed")
)

// InvalidJSONMessage is the message stored for replies that could not be parsed.
const InvalidJSONMessage = "Invalid JSON response"

// ErrorResult is the entry recorded in place of an unparseable reply.
var ErrorResult = json.RawMessage(`{"error":"Invalid JSON response"}`)

// Classification is the typed shape of a well-formed inference reply.
type Classification struct {
	MenuPhoto    string   `json:"menu_photo"`
	ReceiptPhoto string   `json:"receipt_photo"`
	DishNames    []string `json:"dish_names"`
}

// IsMenu reports whether the reply marked the photo as a menu.
func (c *Classification) IsMenu() bool {
	return c != nil && c.MenuPhoto == "yes"
}

// IsReceipt reports whether the reply marked the photo as a receipt.
func (c *Classification) IsReceipt() bool {
	return c != nil && c.ReceiptPhoto == "yes"
}

// FailureResult builds an error entry carrying an arbitrary message.
func FailureResult(message string) json.RawMessage {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return ErrorResult
	}
	return payload
}
