package models

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// PrintFlags writes flag help wrapped to 80 columns.
func PrintFlags(w io.Writer, flags []*flag.Flag) {
	wname, wdef := 0, 0
	for _, f := range flags {
		if len(f.Name) > wname {
			wname = len(f.Name)
		}
		if len(f.DefValue) > wdef {
			wdef = len(f.DefValue)
		}
	}
	wdesc := 80 - wname - wdef - 7

	namefmt := fmt.Sprintf("  -%%-%ds ", wname)
	deffmt := fmt.Sprintf("%%-%ds ", wdef+2)
	lpad := strings.Repeat(" ", wname+wdef+7)
	for _, f := range flags {
		fmt.Fprintf(w, namefmt, f.Name)
		if f.DefValue != "" && f.DefValue != "[]" {
			fmt.Fprintf(w, deffmt, "("+f.DefValue+")")
		} else {
			fmt.Fprintf(w, deffmt, "")
		}
		usage := f.Usage
		for first := true; first || usage != ""; first = false {
			if !first {
				io.WriteString(w, lpad)
			}
			l := len(usage)
			skip := 0
			if l > wdesc {
				l = wdesc
				// split on newline or space if present
				if s := strings.LastIndexAny(usage[:l], " \n"); s > 0 {
					l, skip = s, 1
				}
			}
			fmt.Fprintln(w, usage[:l])
			usage = usage[l+skip:]
		}
	}
}
