package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	AffinityUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "affinity_updates_total",
		Help: "Изменения счёта привязанности по знаку дельты",
	}, []string{"character", "delta"})

	AffinityRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "affinity_rejected_total",
		Help: "Сообщения, не учтённые в счёте",
	}, []string{"character", "reason"})

	MilestoneClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milestone_claims_total",
		Help: "Попытки обработать порог по результату",
	}, []string{"character", "result"})

	CardGrantsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "card_grants_total",
		Help: "Выдачи карточек по редкости и результату",
	}, []string{"character", "tier", "result"})

	StorySessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "story_sessions_active",
		Help: "Активные сессии истории",
	})

	StorySessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "story_sessions_total",
		Help: "Завершённые сессии истории по исходу",
	}, []string{"character", "outcome"})

	ClassifierFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classifier_fallbacks_total",
		Help: "Сообщения, для которых классификатор вернул нейтральную оценку по умолчанию",
	})

	InputsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_inputs_total",
		Help: "Обработанные входящие события",
	}, []string{"kind", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		AffinityUpdatesTotal,
		AffinityRejectedTotal,
		MilestoneClaimsTotal,
		CardGrantsTotal,
		StorySessionsActive,
		StorySessionsTotal,
		ClassifierFallbacksTotal,
		InputsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveAffinityUpdate учитывает применённую дельту.
func ObserveAffinityUpdate(character string, delta int) {
	label := "zero"
	switch {
	case delta > 0:
		label = "positive"
	case delta < 0:
		label = "negative"
	}
	AffinityUpdatesTotal.WithLabelValues(character, label).Inc()
}

// IncAffinityRejected учитывает сообщение, не попавшее в счёт.
func IncAffinityRejected(character, reason string) {
	AffinityRejectedTotal.WithLabelValues(character, reason).Inc()
}

// IncMilestoneClaim учитывает результат обработки порога: claimed, already, released, empty.
func IncMilestoneClaim(character, result string) {
	MilestoneClaimsTotal.WithLabelValues(character, result).Inc()
}

// IncCardGrant учитывает попытку выдачи карточки.
func IncCardGrant(character, tier string, granted bool) {
	result := "granted"
	if !granted {
		result = "owned"
	}
	CardGrantsTotal.WithLabelValues(character, tier, result).Inc()
}

// ObserveStoryOutcome учитывает завершение сессии: resolved, timeout, aborted.
func ObserveStoryOutcome(character, outcome string) {
	StorySessionsTotal.WithLabelValues(character, outcome).Inc()
}

// IncClassifierFallback учитывает нейтральную оценку по умолчанию.
func IncClassifierFallback() {
	ClassifierFallbacksTotal.Inc()
}

// IncInput учитывает обработку входящего события.
func IncInput(kind, status string) {
	InputsTotal.WithLabelValues(kind, status).Inc()
}
