package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/dashboard"
	"github.com/grafana/grafana-foundation-sdk/go/prometheus"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

func main() {
	builder := dashboard.NewDashboardBuilder("Liveblog Push Relay").
		Uid("liveblog-push").
		Tags([]string{"liveblog", "push", "prometheus"}).
		Refresh("1m").
		Time("now-6h", "now").
		Timezone(common.TimeZoneBrowser)

	builder = builder.WithRow(dashboard.NewRowBuilder("Publishes"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Publish rate").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_publishes_total[5m]))`).
					LegendFormat("published"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_publish_failures_total[5m]))`).
					LegendFormat("transport_failure"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_provider_errors_total[5m]))`).
					LegendFormat("provider_error"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Payload too large").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_payload_too_large_total[5m]))`).
					LegendFormat("rejected"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Send duration avg").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_send_duration_seconds_sum[5m])) / sum(rate(liveblog_push_send_duration_seconds_count[5m]))`).
					LegendFormat("avg"),
			),
	)

	builder = builder.WithRow(dashboard.NewRowBuilder("Subscriptions"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Registry calls").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_subscribes_total[5m]))`).
					LegendFormat("subscribe"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_unsubscribes_total[5m]))`).
					LegendFormat("unsubscribe"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_registry_failures_total[5m]))`).
					LegendFormat("failure"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Rate limited").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(liveblog_push_rate_limited_total[5m]))`).
					LegendFormat("rate_limited"),
			),
	)

	dashboardJSON, err := builder.Build()
	if err != nil {
		panic(err)
	}

	outputPath := os.Getenv("DASHBOARD_OUT")
	if outputPath == "" {
		outputPath = "dashboard.json"
	}

	payload, err := json.MarshalIndent(dashboardJSON, "", "  ")
	if err != nil {
		panic(err)
	}

	if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
		panic(err)
	}

	fmt.Printf("dashboard written to %s\n", outputPath)
}
