package bnet

import (
	"strings"

	"github.com/juju/errors"
)

// Region is a Battle.net API region, stored lower case.
type Region string

const (
	EU Region = "eu"
	US Region = "us"
	KR Region = "kr"
	TW Region = "tw"
)

// Regions lists every supported region in sync order.
var Regions = []Region{EU, US, KR, TW}

var locales = map[Region]string{
	EU: "en_GB",
	US: "en_US",
	KR: "ko_KR",
	TW: "zh_TW",
}

// ParseRegion accepts any casing of a known region.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := locales[r]; !ok {
		return "", errors.NotValidf("region %q", s)
	}
	return r, nil
}

// Locale is the default locale sent with requests to the region.
func (r Region) Locale() string {
	return locales[r]
}

func (r Region) String() string {
	return string(r)
}

func (r Region) apiHost() string {
	return "https://" + string(r) + ".api.blizzard.com"
}

func (r Region) profileNamespace() string {
	return "profile-" + string(r)
}

// Slug converts a realm or guild name to the form used in API paths.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "'", "")
	return strings.Join(strings.Fields(s), "-")
}
