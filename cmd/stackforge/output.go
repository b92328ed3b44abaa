package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/engine"
	"github.com/yairfalse/stackforge/internal/journal"
	"github.com/yairfalse/stackforge/pkg/account"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecommendations(w io.Writer, set catalog.RecommendationSet) error {
	fmt.Fprintf(w, "Use case: %s  Stage: %s  Cloud: %s\n\n", set.UseCase, set.Stage, set.Preference)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tPROVIDER\tCATEGORY\tNAME")
	for _, s := range set.Services {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Provider, s.Category, s.Name)
	}
	return tw.Flush()
}

func printResult(w io.Writer, r *engine.Result) error {
	acc := r.Account
	verb := "reused"
	if r.AccountCreated {
		verb = "created"
	}
	fmt.Fprintf(w, "Account %s (%s, %s) %s, status %s\n", acc.AccountName, acc.AccountID, acc.Provider, verb, acc.Status)
	if acc.ConsoleURL != "" {
		fmt.Fprintf(w, "Console: %s\n", acc.ConsoleURL)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tOUTCOME\tSTATUS\tENDPOINT\tDETAIL")
	for _, o := range r.Outcomes {
		endpoint := o.Resource.Endpoint
		if endpoint != "" && o.Resource.Port > 0 {
			endpoint = fmt.Sprintf("%s:%d", endpoint, o.Resource.Port)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.Service, o.Status, o.Resource.Status, dash(endpoint), dash(o.Error))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nOverall: %s\n", r.Status)
	return nil
}

func printAccounts(w io.Writer, accounts []*account.Account) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTARTUP\tPROVIDER\tACCOUNT\tSTATUS\tREADY")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\n",
			a.Key, a.StartupName, dash(string(a.Provider)), dash(a.AccountID), a.Status, a.ReadyCount(), len(a.Resources))
	}
	return tw.Flush()
}

func printAccount(w io.Writer, a *account.Account) error {
	fmt.Fprintf(w, "Key:      %s\n", a.Key)
	fmt.Fprintf(w, "Startup:  %s\n", a.StartupName)
	fmt.Fprintf(w, "Founder:  %s <%s>\n", a.FounderName, a.FounderEmail)
	fmt.Fprintf(w, "Account:  %s %s\n", a.AccountName, dash(a.AccountID))
	fmt.Fprintf(w, "Provider: %s\n", dash(string(a.Provider)))
	fmt.Fprintf(w, "Status:   %s\n", a.Status)
	if a.FailureReason != "" {
		fmt.Fprintf(w, "Failure:  %s\n", a.FailureReason)
	}
	if len(a.Resources) == 0 {
		return nil
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATUS\tRESOURCE\tREGION\tERROR")
	for _, r := range a.Resources {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Service, r.Status, dash(r.ResourceID), dash(r.Region), dash(r.Error))
	}
	return tw.Flush()
}

func printHistory(w io.Writer, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tSERVICE\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.Sequence, e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, dash(e.Service), dash(e.Error))
	}
	return tw.Flush()
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
