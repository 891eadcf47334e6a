package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rpc-failover/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		It("should create a dev logger", func() {
			Expect(logger.New("info", false, "dev")).NotTo(BeNil())
		})

		It("should create a prod logger", func() {
			Expect(logger.New("info", true, "prod")).NotTo(BeNil())
		})
	})

	DescribeTable("level handling",
		func(level string, enabled, disabled slog.Level) {
			log := logger.NewWithWriter(&bytes.Buffer{}, level, false, "dev")

			Expect(log.Enabled(ctx, enabled)).To(BeTrue())
			Expect(log.Enabled(ctx, disabled)).To(BeFalse())
		},
		Entry("info", "info", slog.LevelInfo, slog.LevelDebug),
		Entry("warn", "warn", slog.LevelWarn, slog.LevelInfo),
		Entry("error", "error", slog.LevelError, slog.LevelWarn),
		Entry("unknown falls back to info", "verbose", slog.LevelInfo, slog.LevelDebug),
	)

	It("should enable debug when asked", func() {
		log := logger.NewWithWriter(&bytes.Buffer{}, "DEBUG", false, "dev")
		Expect(log.Enabled(ctx, slog.LevelDebug)).To(BeTrue())
	})

	Describe("NewWithWriter", func() {
		It("should write JSON with the environment attribute in prod", func() {
			var buf bytes.Buffer
			logger.NewWithWriter(&buf, "info", false, "prod").Info("Endpoint is healthy", slog.String("endpoint", "http://a"))

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKeyWithValue("environment", "prod"))
			Expect(record).To(HaveKeyWithValue("endpoint", "http://a"))
			Expect(record).To(HaveKeyWithValue("msg", "Endpoint is healthy"))
		})

		It("should write text outside prod", func() {
			var buf bytes.Buffer
			logger.NewWithWriter(&buf, "info", false, "dev").Info("started")

			Expect(buf.String()).To(ContainSubstring("environment=dev"))
			Expect(buf.String()).To(ContainSubstring("msg=started"))
		})
	})
})
