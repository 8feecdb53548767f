package jobsource

import (
	"encoding/xml"
	"io"
	"strings"
)

type urlset struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// ReadSitemap returns the <loc> of every <url> in a sitemap urlset.
func ReadSitemap(r io.Reader) ([]string, error) {
	var set urlset
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out, nil
}
