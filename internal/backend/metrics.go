package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func counter(name, help string, read func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      name,
		Help:      help,
	}, read)
}

// registry exports the in-process counters of every mounted component.
func (s *Server) registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	am := s.auth.Metrics()
	reg.MustRegister(
		collectors.NewGoCollector(),
		counter("http_requests_total", "Requests seen by the access log.", func() float64 { return float64(s.requests.Load()) }),
		counter("signin_requests_total", "Anonymous sign-in attempts.", func() float64 { return float64(am.SignInRequests.Load()) }),
		counter("signin_new_users_total", "Sign-ins that minted a new user id.", func() float64 { return float64(am.NewUsers.Load()) }),
		counter("signin_resumed_users_total", "Sign-ins that resumed an existing user id.", func() float64 { return float64(am.ResumedUsers.Load()) }),
		counter("signin_stateless_total", "Sign-ins served without user persistence.", func() float64 { return float64(am.StatelessSignIns.Load()) }),
		counter("auth_rejected_tokens_total", "Requests rejected for an invalid token.", func() float64 { return float64(am.RejectedTokens.Load()) }),
		counter("auth_calls_total", "Authenticated requests.", func() float64 { return float64(am.AuthenticatedCalls.Load()) }),
		counter("messages_appended_total", "Messages stored in room collections.", func() float64 { return float64(s.rooms.Appends()) }),
		counter("objects_uploaded_total", "Blobs uploaded to the object store.", func() float64 { return float64(s.objects.Uploads()) }),
		counter("objects_downloaded_total", "Blobs served from the object store.", func() float64 { return float64(s.objects.Downloads()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "live_subscriptions",
			Help:      "Open live snapshot subscriptions.",
		}, func() float64 { return float64(s.rooms.LiveStreams()) }),
	)
	return reg
}
