package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Summarize renders observed extractor invocations as a human-readable
// changelog: one paragraph per document touched, classified as updated,
// unchanged, or newly created.
func Summarize(invocations []Invocation, schemaName string) string {
	var parts []string
	for _, inv := range invocations {
		switch inv.Tool {
		case patchDocToolName:
			docID, _ := inv.Args["json_doc_id"].(string)
			plan, _ := inv.Args["planned_edits"].(string)
			noChanges, _ := inv.Args["no_changes"].(bool)
			updated, hasDoc := inv.Args["updated_document"].(map[string]interface{})
			if noChanges || !hasDoc {
				parts = append(parts, fmt.Sprintf("Document %s unchanged:\n%s", docID, plan))
				continue
			}
			parts = append(parts, fmt.Sprintf("Document %s updated:\nPlan: %s\nAdded content: %s",
				docID, plan, compactJSON(updated)))
		case schemaName:
			parts = append(parts, fmt.Sprintf("New %s created:\nContent: %s",
				schemaName, compactJSON(inv.Args)))
		}
	}
	return strings.Join(parts, "\n\n")
}

func compactJSON(v map[string]interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
