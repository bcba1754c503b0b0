package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jlrickert/wikidex/pkg/config"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/wiki"
)

func renderUserError(err error, deps *Deps) string {
	if err == nil {
		return ""
	}

	var verr *wiki.ValidationError
	if errors.As(err, &verr) {
		var b strings.Builder
		fmt.Fprintf(&b, "revision metadata is invalid (%d issues)", len(verr.Issues))
		for _, i := range verr.Issues {
			fmt.Fprintf(&b, "\n  %s", i)
		}
		return b.String()
	}

	var cerr *config.InvalidConfigError
	if errors.As(err, &cerr) {
		return "invalid config:\n  " + strings.Join(cerr.Problems, "\n  ")
	}

	var wterr *dex.WriterTimeoutError
	if errors.As(err, &wterr) {
		if isDebugLogLevel(deps) {
			return err.Error()
		}
		return fmt.Sprintf("index %s is busy, another process may be writing to it", wterr.Index)
	}

	return err.Error()
}

func isDebugLogLevel(deps *Deps) bool {
	if deps == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(deps.LogLevel), "debug")
}
