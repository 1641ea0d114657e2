package predictor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mbd888/fraudscore/internal/circuitbreaker"
	"github.com/mbd888/fraudscore/internal/scoring"
)

func sampleFeatures() scoring.FeatureVector {
	return scoring.FeatureVector{
		Amount:               250.5,
		Hour:                 23,
		DayOfWeek:            6,
		IsWeekend:            true,
		IsNight:              true,
		AmountZScore:         1.5,
		MinutesSinceLastTxn:  42,
		HasLocation:          false,
		UserRiskScore:        12,
		UserAvgAmount:        100,
		UserAmountStdDev:     20,
		UserTxnCount:         7,
		MerchantFraudRate:    0.02,
		MerchantCategoryCode: 3,
		MerchantRiskCode:     1,
	}
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestPredict_Success(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respondJSON(`{"success":true,"prediction":{"fraud_score":73.5,"models_used":["random_forest","xgboost"]},"processing_time_ms":4.2}`)(w, r)
	}))
	defer srv.Close()

	p := NewHTTPClient(srv.URL+"/").Predict(context.Background(), sampleFeatures())

	assert.True(t, p.Available)
	assert.Equal(t, 73.5, p.Score)
	assert.Equal(t, []string{"random_forest", "xgboost"}, p.Models)

	assert.Len(t, got, 15)
	assert.Equal(t, 1.0, got["is_weekend"])
	assert.Equal(t, 1.0, got["is_night"])
	assert.Equal(t, 0.0, got["has_location"])
	assert.Equal(t, 42.0, got["time_diff_minutes"])
	assert.Equal(t, 20.0, got["user_amount_std"])
	assert.Equal(t, 3.0, got["merchant_category_encoded"])
	assert.Equal(t, 1.0, got["merchant_risk_encoded"])
}

func TestPredict_ClampsScore(t *testing.T) {
	srv := httptest.NewServer(respondJSON(`{"success":true,"prediction":{"fraud_score":140}}`))
	defer srv.Close()
	p := NewHTTPClient(srv.URL).Predict(context.Background(), sampleFeatures())
	assert.True(t, p.Available)
	assert.Equal(t, 100.0, p.Score)

	srv2 := httptest.NewServer(respondJSON(`{"success":true,"prediction":{"fraud_score":-3}}`))
	defer srv2.Close()
	p = NewHTTPClient(srv2.URL).Predict(context.Background(), sampleFeatures())
	assert.Equal(t, 0.0, p.Score)
}

func TestPredict_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"not found", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"success false", respondJSON(`{"success":false,"error":"model not loaded"}`)},
		{"prediction error", respondJSON(`{"success":true,"prediction":{"fraud_score":0,"error":"No models loaded"}}`)},
		{"missing score", respondJSON(`{"success":true,"prediction":{}}`)},
		{"garbage", respondJSON(`not json`)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			p := NewHTTPClient(srv.URL).Predict(context.Background(), sampleFeatures())
			assert.False(t, p.Available)
			assert.Zero(t, p.Score)
		})
	}
}

func TestPredict_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(srv.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	p := c.Predict(context.Background(), sampleFeatures())
	assert.False(t, p.Available)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPredict_TransportError(t *testing.T) {
	srv := httptest.NewServer(respondJSON(`{}`))
	url := srv.URL
	srv.Close()

	p := NewHTTPClient(url).Predict(context.Background(), sampleFeatures())
	assert.False(t, p.Available)
}

func TestPredict_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := circuitbreaker.New(2, time.Hour)
	c := NewHTTPClient(srv.URL, WithBreaker(b))
	for i := 0; i < 5; i++ {
		assert.False(t, c.Predict(context.Background(), sampleFeatures()).Available)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, b.State(breakerKey))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		respondJSON(`{"status":"healthy","models_loaded":2}`)(w, r)
	}))
	defer srv.Close()
	assert.NoError(t, NewHTTPClient(srv.URL).Health(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.Error(t, NewHTTPClient(down.URL).Health(context.Background()))
}

func TestNopClient(t *testing.T) {
	p := NopClient{}.Predict(context.Background(), sampleFeatures())
	assert.False(t, p.Available)
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	c := NewHTTPClient("http://model:5000/", WithTimeout(0))
	assert.Equal(t, "http://model:5000", c.baseURL)
	assert.Equal(t, DefaultTimeout, c.timeout)
}
