// Package provision makes sure the topics a pipeline depends on exist with the
// expected shape before anything is produced or consumed.
package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/drblury/userflow/internal/runtime/logging"
)

// Admin is the subset of sarama.ClusterAdmin the provisioner needs.
type Admin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	CreatePartitions(topic string, count int32, assignment [][]int32, validateOnly bool) error
	AlterConfig(resourceType sarama.ConfigResourceType, name string, entries map[string]*string, validateOnly bool) error
	Close() error
}

// TopicSpec describes the desired state of one topic.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	// ConfigEntries are topic-level overrides such as retention.ms.
	ConfigEntries map[string]string
}

// Topics builds one spec per name sharing the same shape.
func Topics(names []string, partitions int32, replication int16, entries map[string]string) []TopicSpec {
	specs := make([]TopicSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, TopicSpec{
			Name:              name,
			Partitions:        partitions,
			ReplicationFactor: replication,
			ConfigEntries:     entries,
		})
	}
	return specs
}

// Provisioner creates missing topics and converges existing ones.
type Provisioner struct {
	admin  Admin
	logger logging.ServiceLogger
}

func New(admin Admin, logger logging.ServiceLogger) (*Provisioner, error) {
	if admin == nil {
		return nil, errors.New("provision: admin client is required")
	}
	if logger == nil {
		return nil, errors.New("provision: logger is required")
	}
	return &Provisioner{admin: admin, logger: logger}, nil
}

// EnsureTopics is idempotent. Partitions are only ever increased and config
// entries are merged into the topic's existing overrides. The replication
// factor of an existing topic is left untouched.
func (p *Provisioner) EnsureTopics(ctx context.Context, specs ...TopicSpec) error {
	existing, err := p.admin.ListTopics()
	if err != nil {
		return fmt.Errorf("provision: list topics: %w", err)
	}

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if spec.Name == "" {
			return errors.New("provision: topic name is required")
		}

		current, ok := existing[spec.Name]
		if !ok {
			if err := p.create(spec); err != nil {
				return err
			}
			continue
		}
		if err := p.converge(spec, current); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the admin connection.
func (p *Provisioner) Close() error {
	return p.admin.Close()
}

func (p *Provisioner) create(spec TopicSpec) error {
	detail := &sarama.TopicDetail{
		NumPartitions:     spec.Partitions,
		ReplicationFactor: spec.ReplicationFactor,
		ConfigEntries:     toSarama(spec.ConfigEntries),
	}
	err := p.admin.CreateTopic(spec.Name, detail, false)
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		// created concurrently by another instance
		p.logger.Info("Topic already exists", logging.LogFields{"topic": spec.Name})
		return nil
	}
	if err != nil {
		return fmt.Errorf("provision: create topic %s: %w", spec.Name, err)
	}
	p.logger.Info("Topic created", logging.LogFields{
		"topic":       spec.Name,
		"partitions":  spec.Partitions,
		"replication": spec.ReplicationFactor,
	})
	return nil
}

func (p *Provisioner) converge(spec TopicSpec, current sarama.TopicDetail) error {
	changed := false

	switch {
	case spec.Partitions > current.NumPartitions:
		if err := p.admin.CreatePartitions(spec.Name, spec.Partitions, nil, false); err != nil {
			return fmt.Errorf("provision: grow topic %s to %d partitions: %w", spec.Name, spec.Partitions, err)
		}
		p.logger.Info("Topic partitions increased", logging.LogFields{
			"topic": spec.Name,
			"from":  current.NumPartitions,
			"to":    spec.Partitions,
		})
		changed = true
	case spec.Partitions < current.NumPartitions:
		p.logger.Warn("Topic has more partitions than requested, keeping them", logging.LogFields{
			"topic":     spec.Name,
			"current":   current.NumPartitions,
			"requested": spec.Partitions,
		})
	}

	if spec.ReplicationFactor > 0 && current.ReplicationFactor > 0 && spec.ReplicationFactor != current.ReplicationFactor {
		p.logger.Warn("Topic replication factor differs from requested", logging.LogFields{
			"topic":     spec.Name,
			"current":   current.ReplicationFactor,
			"requested": spec.ReplicationFactor,
		})
	}

	if merged, differs := mergeEntries(current.ConfigEntries, spec.ConfigEntries); differs {
		if err := p.admin.AlterConfig(sarama.TopicResource, spec.Name, merged, false); err != nil {
			return fmt.Errorf("provision: alter config of topic %s: %w", spec.Name, err)
		}
		p.logger.Info("Topic configuration updated", logging.LogFields{"topic": spec.Name})
		changed = true
	}

	if !changed {
		p.logger.Debug("Topic up to date", logging.LogFields{"topic": spec.Name})
	}
	return nil
}

// mergeEntries overlays desired onto current. AlterConfig replaces the whole
// override set, so existing overrides have to be sent along.
func mergeEntries(current map[string]*string, desired map[string]string) (map[string]*string, bool) {
	differs := false
	for k, v := range desired {
		if cur, ok := current[k]; !ok || cur == nil || *cur != v {
			differs = true
			break
		}
	}
	if !differs {
		return nil, false
	}

	merged := make(map[string]*string, len(current)+len(desired))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range desired {
		value := v
		merged[k] = &value
	}
	return merged, true
}

func toSarama(entries map[string]string) map[string]*string {
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]*string, len(entries))
	for k, v := range entries {
		value := v
		out[k] = &value
	}
	return out
}
