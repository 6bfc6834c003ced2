package eodobs

import (
	"context"
	"time"

	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{
		summarizer: summarizer,
	}
}

func (oes *observableEodSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()

	return oes.observe(ctx, t.Format("2006-01-02"), func() (string, error) {
		return oes.summarizer.SummarizeDay(t)
	})
}

func (oes *observableEodSummarizer) SummarizeToday() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeToday")
	defer span.End()

	return oes.observe(ctx, "today", oes.summarizer.SummarizeToday)
}

func (oes *observableEodSummarizer) observe(ctx context.Context, date string, run func() (string, error)) (string, error) {
	logger.InfoSkip(ctx, 2, "Starting EOD summary generation", "date", date)

	csvPath, err := run()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 2, "EOD summary generation failed", err, "date", date)
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 2, "No trades found for EOD summary", "date", date)
		return "", nil
	}

	logger.InfoSkip(ctx, 2, "EOD summary generated successfully",
		"date", date,
		"csv_path", csvPath,
	)
	return csvPath, nil
}
