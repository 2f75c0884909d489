package events

import (
	"encoding/json"
	"fmt"
)

// Marshal renders an event as one flat JSON record with kind, source and timestamp at the top level
func Marshal(evt Event) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", evt.Kind(), err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %s event: %w", evt.Kind(), err)
	}
	fields["kind"] = string(evt.Kind())

	return json.Marshal(fields)
}
