package system

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/vyuha/server/internal/world"
)

// ResolveTarget finds the entity an agent refers to: exact id first, then
// case-insensitive exact name, then case-insensitive name substring. The
// first match in entity order wins within each tier. Returns -1 when
// nothing matches; an empty reference never matches.
func ResolveTarget(s *world.State, ref string) int {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1
	}
	if i := s.EntityIndex(ref); i >= 0 {
		return i
	}

	fold := cases.Fold()
	want := fold.String(ref)
	for i := range s.Entities {
		if fold.String(s.Entities[i].Name) == want {
			return i
		}
	}
	for i := range s.Entities {
		if strings.Contains(fold.String(s.Entities[i].Name), want) {
			return i
		}
	}
	return -1
}
