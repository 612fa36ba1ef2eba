package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/retailhub/lottery-sync/internal/domain"
)

type schemaKey struct {
	entity domain.EntityType
	op     domain.Operation
}

// requiredFields is the static table of fields the cloud rejects a payload
// without. A field counts as missing when absent, null, an empty string, or
// the zero timestamp.
var requiredFields = map[schemaKey][]string{
	{domain.EntityPack, domain.OperationCreate}:         {"pack_id", "game_id", "pack_number", "received_at"},
	{domain.EntityPack, domain.OperationActivate}:       {"pack_id", "game_id", "pack_number", "bin_id", "opening_serial", "activated_at", "received_at"},
	{domain.EntityPack, domain.OperationUpdate}:         {"pack_id", "status"},
	{domain.EntityDayClose, domain.OperationCreate}:     {"day_id", "business_date", "closed_at", "closed_by", "total_sales", "packs"},
	{domain.EntityDayOpen, domain.OperationCreate}:      {"day_id", "business_date", "opened_at", "opened_by"},
	{domain.EntityPullTracking, domain.OperationCreate}: {"action"},
}

const zeroTimestamp = "0001-01-01T00:00:00Z"

// PayloadValidation is the outcome of ValidatePayloadStructure.
type PayloadValidation struct {
	Valid         bool
	MissingFields []string
}

// Error renders the validation failure in the form the structural patterns
// recognise, so a locally rejected payload classifies the same way as a
// server-rejected one.
func (v PayloadValidation) Error() string {
	if v.Valid {
		return ""
	}
	return "missing required field: " + strings.Join(v.MissingFields, ", ")
}

// ValidatePayloadStructure checks payload against the required-field table
// for (entityType, operation). Pairs with no table entry are reported invalid
// with no missing fields. A payload that is not a JSON object is invalid.
func ValidatePayloadStructure(entityType domain.EntityType, operation domain.Operation, payload json.RawMessage) PayloadValidation {
	fields, ok := requiredFields[schemaKey{entityType, operation}]
	if !ok {
		return PayloadValidation{Valid: false}
	}

	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return PayloadValidation{Valid: false, MissingFields: append([]string(nil), fields...)}
	}

	var missing []string
	for _, f := range fields {
		if isMissing(obj[f]) {
			missing = append(missing, f)
		}
	}
	return PayloadValidation{Valid: len(missing) == 0, MissingFields: missing}
}

// ValidationMessage describes why (entityType, operation, payload) failed, for
// storage in last_sync_error.
func ValidationMessage(entityType domain.EntityType, operation domain.Operation, v PayloadValidation) string {
	if len(v.MissingFields) == 0 {
		return fmt.Sprintf("invalid format: no payload schema for %s/%s", entityType, operation)
	}
	return v.Error()
}

func isMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == zeroTimestamp
	case []any:
		return len(t) == 0
	}
	return false
}
