package syncer

import (
	"strings"

	"gitsheet/api/internal/store"
)

// typePrefixes maps conventional-commit style message prefixes to a commit
// type tag. Order matters: longer prefixes must come before their shorter
// variants so "feature:" is not swallowed by "feat:".
var typePrefixes = []struct {
	prefix string
	tag    string
}{
	{"feature:", store.TypeFeature},
	{"feat:", store.TypeFeature},
	{"bugfix:", store.TypeBugfix},
	{"bug:", store.TypeBugfix},
	{"fix:", store.TypeBugfix},
	{"refactor:", store.TypeRefactor},
	{"refact:", store.TypeRefactor},
	{"documentation:", store.TypeDocs},
	{"docs:", store.TypeDocs},
	{"doc:", store.TypeDocs},
	{"tests:", store.TypeTest},
	{"test:", store.TypeTest},
	{"chore:", store.TypeChore},
	{"style:", store.TypeChore},
	{"ci:", store.TypeChore},
}

// ClassifyMessage tags a commit message by its leading conventional prefix.
// Messages without a recognized prefix are tagged "other".
func ClassifyMessage(message string) string {
	head := strings.ToLower(strings.TrimSpace(message))
	for _, entry := range typePrefixes {
		if strings.HasPrefix(head, entry.prefix) {
			return entry.tag
		}
	}
	return store.TypeOther
}
