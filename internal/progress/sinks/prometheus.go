package sinks

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"forumharvest/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns all
// collectors for runs, pages, topics and post reconciliation.
type PrometheusSink struct {
	runsStarted    prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	pagesFetched   *prometheus.CounterVec
	topicsHandled  *prometheus.CounterVec
	categoriesDone *prometheus.CounterVec
	posts          *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forumharvest_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumharvest_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumharvest_pages_fetched_total",
			Help: "Listing pages fetched per forum.",
		}, []string{"forum"}),
		topicsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumharvest_topics_total",
			Help: "Topics processed partitioned by outcome.",
		}, []string{"forum", "outcome"}),
		categoriesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumharvest_categories_completed_total",
			Help: "Categories fully paginated per forum.",
		}, []string{"forum"}),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumharvest_posts_total",
			Help: "Post snapshots written partitioned by kind (created/updated).",
		}, []string{"forum", "kind"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.pagesFetched,
		s.topicsHandled,
		s.categoriesDone,
		s.posts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors for one event.
func (s *PrometheusSink) Consume(evt progress.Event) {
	forum := evt.Forum
	if forum == "" {
		forum = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
	case progress.StagePageFetched:
		s.pagesFetched.WithLabelValues(forum).Inc()
	case progress.StageCategoryDone:
		s.categoriesDone.WithLabelValues(forum).Inc()
	case progress.StageTopicDone:
		s.topicsHandled.WithLabelValues(forum, "done").Inc()
	case progress.StageTopicSkipped:
		s.topicsHandled.WithLabelValues(forum, "skipped").Inc()
	case progress.StageTopicError:
		s.topicsHandled.WithLabelValues(forum, "error").Inc()
	case progress.StagePostCreated:
		s.posts.WithLabelValues(forum, "created").Add(float64(evt.Count))
	case progress.StagePostUpdated:
		s.posts.WithLabelValues(forum, "updated").Add(float64(evt.Count))
	}
}
