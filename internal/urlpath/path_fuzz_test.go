// SPDX-License-Identifier: AGPL-3.0-only

package urlpath

import (
	"strings"
	"testing"

	"github.com/imgforge/imgforge/internal/options"
)

func FuzzParse(f *testing.F) {
	f.Add("/sig/resize:fill:100:100/plain/http://src/one.png")
	f.Add("/unsafe/quality:70/aHR0cDovL3NyYy9vbmUucG5n.png")
	f.Add("/sig/plain/http%3A%2F%2Fsrc%2Fone.png@jpg")
	f.Add("/sig/raw/aHR0cDovL3NyYy9vbmUucG5n")
	f.Add("/sig/resize:fit:10:10/enlarge/plain/http://src/one.png")
	f.Add("//")
	f.Add("/")
	f.Add("")

	f.Fuzz(func(t *testing.T, path string) {
		p, err := Parse(path)
		if err != nil {
			return
		}
		if p.SignatureToken == "" {
			t.Errorf("Parse(%q) succeeded with an empty signature token", path)
		}
		if !strings.HasPrefix(p.NormalizedPath, "/") {
			t.Errorf("Parse(%q) normalized path %q does not start with /", path, p.NormalizedPath)
		}
		for _, tok := range p.OptionTokens {
			if !strings.Contains(tok, ":") && !options.IsBareDirective(tok) {
				t.Errorf("Parse(%q) produced option token %q that is neither name:args nor a bare flag", path, tok)
			}
		}
	})
}
