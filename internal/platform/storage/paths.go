package storage

import (
	"fmt"
	"strings"
)

// ContractDocumentPath names a generated contract in the documents bucket:
// documents/<subjectID>/<prefix>_<subjectID>_<uniqueID>.pdf. Every part must be a single
// non-empty path segment.
func ContractDocumentPath(subjectID, prefix, uniqueID string) (string, error) {
	parts := [...]struct{ name, value string }{
		{"subject id", subjectID},
		{"prefix", prefix},
		{"unique id", uniqueID},
	}
	for i, part := range parts {
		value := strings.TrimSpace(part.value)
		switch {
		case value == "":
			return "", fmt.Errorf("storage: %s is required", part.name)
		case strings.ContainsAny(value, `/\`), strings.Contains(value, ".."):
			return "", fmt.Errorf("storage: %s %q is not a single path segment", part.name, value)
		}
		parts[i].value = value
	}
	subject, pre, id := parts[0].value, parts[1].value, parts[2].value
	return fmt.Sprintf("documents/%s/%s_%s_%s.pdf", subject, pre, subject, id), nil
}
