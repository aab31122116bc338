package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/internal/utils"
)

type SDKSource string
type HealthStatus string

const (
	Sdk      = "sdk"
	Delivery = "delivery"

	RemoteSrc SDKSource = "remote"
	OFREPSrc  SDKSource = "ofrep"

	Healthy      HealthStatus = "healthy"
	Degraded     HealthStatus = "degraded"
	Initializing HealthStatus = "initializing"
	Down         HealthStatus = "down"
)

const maxRecordCount = 5
const maxLastErrorsMeaningDegraded = 2

type Reporter interface {
	ReportOk(component string, message string)
	ReportError(component string, message string)
	GetStatus() Status

	HttpHandler() http.HandlerFunc
}

type Status struct {
	Status   HealthStatus    `json:"status"`
	SDK      ComponentStatus `json:"sdk"`
	Delivery ComponentStatus `json:"delivery"`
}

type ComponentStatus struct {
	Type    string       `json:"type"`
	Key     string       `json:"key,omitempty"`
	Status  HealthStatus `json:"status"`
	Records []string     `json:"records"`
}

type record struct {
	time    time.Time
	isError bool
	message string
}

type reporter struct {
	records map[string][]record
	mu      sync.RWMutex
	status  Status
}

func NewNullReporter() Reporter {
	return &reporter{records: make(map[string][]record)}
}

func NewReporter(conf *config.Config) Reporter {
	r := &reporter{
		records: make(map[string][]record),
		status: Status{
			Status: Initializing,
			SDK: ComponentStatus{
				Type:   string(RemoteSrc),
				Key:    utils.Obfuscate(conf.SDK.Key, 5),
				Status: Initializing,
			},
			Delivery: ComponentStatus{
				Type:   conf.Delivery.Type,
				Status: Initializing,
			},
		},
	}
	if conf.OFREP.IsSet() {
		r.status.SDK.Type = string(OFREPSrc)
		r.status.SDK.Key = ""
	}
	return r
}

func (r *reporter) ReportOk(component string, message string) {
	r.appendRecord(component, "[ok] "+message, false)
}

func (r *reporter) ReportError(component string, message string) {
	r.appendRecord(component, "[error] "+message, true)
}

func (r *reporter) HttpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status, err := json.Marshal(r.GetStatus())
		if err != nil {
			http.Error(w, "Error producing status", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(status)
	}
}

func (r *reporter) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.status
}

func (r *reporter) checkStatus(records []record) ([]string, HealthStatus) {
	length := len(records)
	targetRecords := make([]string, length)
	var errorCount = 0
	for i, msg := range records {
		targetRecords[i] = msg.time.UTC().Format(time.RFC1123) + ": " + msg.message
		if i >= length-maxLastErrorsMeaningDegraded {
			if msg.isError {
				errorCount++
			} else {
				errorCount--
			}
		}
	}
	if errorCount > 0 && errorCount >= min(maxLastErrorsMeaningDegraded, length) {
		return targetRecords, Degraded
	}
	return targetRecords, Healthy
}

func (r *reporter) appendRecord(component string, message string, isError bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *ComponentStatus
	switch component {
	case Sdk:
		target = &r.status.SDK
	case Delivery:
		target = &r.status.Delivery
	default:
		return
	}

	recs, ok := r.records[component]
	if !ok {
		recs = make([]record, 0, maxRecordCount)
	}
	recs = append(recs, record{time: time.Now(), isError: isError, message: message})
	if len(recs) > maxRecordCount {
		recs = recs[1:]
	}
	r.records[component] = recs
	rec, stat := r.checkStatus(recs)
	target.Records = rec
	if stat == Degraded && (target.Status == Initializing || target.Status == Down) {
		stat = Down
	}
	target.Status = stat

	switch {
	case r.status.SDK.Status == Down:
		r.status.Status = Down
	case r.status.SDK.Status == Initializing:
		r.status.Status = Initializing
	case r.status.SDK.Status == Degraded || r.status.Delivery.Status == Degraded || r.status.Delivery.Status == Down:
		r.status.Status = Degraded
	default:
		r.status.Status = Healthy
	}
}
