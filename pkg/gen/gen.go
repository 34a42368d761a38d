// Package gen derives stable identifiers.
package gen

import (
	"github.com/google/uuid"
)

// JobID is the UUIDv5 of "url|title". The same page saved under the same title
// always maps to the same job.
func JobID(url, title string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url+"|"+title)).String()
}
