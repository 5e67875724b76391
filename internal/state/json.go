package state

import "encoding/json"

// knownFields lists Document's recognized JSON keys, used to split a
// decoded document between typed fields and Extra.
var knownFields = map[string]bool{
	"version":      true,
	"lastUpdated":  true,
	"totalFiles":   true,
	"indexedFiles": true,
	"pendingQueue": true,
	"dailyQuota":   true,
	"stats":        true,
}

// MarshalJSON writes the typed fields plus any preserved Extra keys, so a
// rewrite never drops fields a newer build added (spec §6: "keys not
// listed are reserved for forward compatibility and MUST be preserved on
// rewrite").
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Extra)+7)
	for k, v := range d.Extra {
		out[k] = v
	}
	out["version"] = d.Version
	out["lastUpdated"] = d.LastUpdated
	out["totalFiles"] = d.TotalFiles
	out["indexedFiles"] = d.IndexedFiles
	out["pendingQueue"] = d.PendingQueue
	out["dailyQuota"] = d.DailyQuota
	out["stats"] = d.Stats
	return json.Marshal(out)
}

// UnmarshalJSON decodes the typed fields and stashes everything else into
// Extra.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type alias Document
	var typed alias
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	*d = Document(typed)

	d.Extra = make(map[string]interface{})
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		var val interface{}
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		d.Extra[k] = val
	}
	if d.IndexedFiles == nil {
		d.IndexedFiles = make(map[string]FileMetadata)
	}
	return nil
}
