package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/byte4ever/repogate/gateway/pipeline"
)

// writeReport prints a human readable summary of res.
func writeReport(w io.Writer, res *pipeline.Result) {
	var b strings.Builder

	if res.Repository != nil {
		fmt.Fprintf(&b, "repository: %s\n", res.Repository.FullName)
	}

	if res.Identity != nil {
		fmt.Fprintf(&b, "user:       %s\n", res.Identity.Login)
	}

	for _, sr := range res.Results {
		mark := "ok  "
		if !sr.Success {
			mark = "FAIL"
		}

		fmt.Fprintf(&b, "[%s] %3d %-14s %s", mark, sr.Step, sr.Kind, sr.Message)

		if sr.Error != "" {
			fmt.Fprintf(&b, ": %s", sr.Error)
		}

		b.WriteByte('\n')
	}

	fmt.Fprintf(
		&b, "%d/%d succeeded, %d failed: %s\n",
		res.Successful, res.Total, res.Failed, res.Message,
	)

	_, _ = io.WriteString(w, b.String())
}
