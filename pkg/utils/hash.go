package utils

import (
	"crypto/md5"
	"fmt"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// ShortHash is used for run id suffixes where the full digest is noise.
func ShortHash(input string) string {
	return HashString(input)[:8]
}
