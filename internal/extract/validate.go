// Package extract turns an Instagram post/reel/TV link into a direct media
// URL by calling the third-party extraction API, and validates inbound links
// before they are queued.
package extract

import "regexp"

// linkRE is anchored at the start only. Anything after a valid prefix is
// accepted, so "https://instagram.com/p/ABC/ trailing" still validates.
var linkRE = regexp.MustCompile(`^https?://(www\.)?(instagram\.com|instagr\.am)/(p|reel|tv)/[A-Za-z0-9_-]+/?(?:\?.*)?`)

// Validate reports whether s starts with a supported Instagram content link.
func Validate(s string) bool {
	return linkRE.MatchString(s)
}
