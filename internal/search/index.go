package search

// indexDefinition builds the index settings and mapping. The address lines
// are analyzed with the authority-table synonyms so a query for "avenue"
// matches documents rendered with "AV" and vice versa; .raw keyword
// subfields back the deterministic sort tiebreakers.
func indexDefinition(synonyms []string) map[string]any {
	analysis := map[string]any{
		"analyzer": map[string]any{
			"address_analyzer": map[string]any{
				"type":      "custom",
				"tokenizer": "standard",
				"filter":    []string{"lowercase"},
			},
		},
	}
	if len(synonyms) > 0 {
		analysis["filter"] = map[string]any{
			"address_synonyms": map[string]any{
				"type":     "synonym",
				"synonyms": synonyms,
			},
		}
		analysis["analyzer"] = map[string]any{
			"address_analyzer": map[string]any{
				"type":      "custom",
				"tokenizer": "standard",
				"filter":    []string{"lowercase", "address_synonyms"},
			},
		}
	}

	addressLine := map[string]any{
		"type":     "text",
		"analyzer": "address_analyzer",
		"fields": map[string]any{
			"raw": map[string]any{"type": "keyword"},
		},
	}

	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
			"analysis": analysis,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"pid":        map[string]any{"type": "keyword"},
				"sla":        addressLine,
				"ssla":       addressLine,
				"mla":        map[string]any{"type": "text", "index": false},
				"smla":       map[string]any{"type": "text", "index": false},
				"confidence": map[string]any{"type": "integer"},
				"structured": map[string]any{"type": "object", "enabled": false},
				"geo": map[string]any{
					"properties": map[string]any{
						"level": map[string]any{"type": "object", "enabled": false},
						"geocodes": map[string]any{
							"properties": map[string]any{
								"latitude":    map[string]any{"type": "double"},
								"longitude":   map[string]any{"type": "double"},
								"isDefault":   map[string]any{"type": "boolean"},
								"reliability": map[string]any{"type": "object", "enabled": false},
								"type":        map[string]any{"type": "object", "enabled": false},
							},
						},
					},
				},
			},
		},
	}
}
