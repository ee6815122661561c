package snkv

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestIteratorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("iteration yields every key in byte order", prop.ForAll(
		func(entries map[string]string) bool {
			db := openTest(t)
			for k, v := range entries {
				if err := db.Put([]byte(k), []byte(v)); err != nil {
					return false
				}
			}
			want := make([]string, 0, len(entries))
			for k := range entries {
				want = append(want, k)
			}
			sort.Strings(want)

			it, err := db.NewIterator()
			if err != nil {
				return false
			}
			defer it.Close()
			for _, k := range want {
				if !it.Valid() || string(it.Key()) != k || string(it.Value()) != entries[k] {
					return false
				}
				if it.Next() != nil {
					return false
				}
			}
			return !it.Valid()
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	))

	properties.Property("prefix iteration matches a filter", prop.ForAll(
		func(keys []string, prefix string) bool {
			db := openTest(t)
			set := make(map[string]bool)
			for _, k := range keys {
				if err := db.Put([]byte(k), nil); err != nil {
					return false
				}
				set[k] = true
			}
			var want []string
			for k := range set {
				if strings.HasPrefix(k, prefix) {
					want = append(want, k)
				}
			}
			sort.Strings(want)

			it, err := db.NewPrefixIterator([]byte(prefix))
			if err != nil {
				return false
			}
			defer it.Close()
			var got []string
			for it.Valid() {
				got = append(got, string(it.Key()))
				if it.Next() != nil {
					return false
				}
			}
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			scanned, _, serr := db.Scan([]byte(prefix), 0)
			if serr != nil || len(scanned) != len(want) {
				return false
			}
			for i := range scanned {
				if !bytes.Equal(scanned[i], []byte(want[i])) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.RegexMatch("[ab]{0,4}")),
		gen.RegexMatch("[ab]{0,2}"),
	))

	properties.TestingRun(t)
}
