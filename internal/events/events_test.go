package events

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/session"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{
			name: "snake case header",
			input: "session_id,search_term,document_id,rank,observation_type\n" +
				"s1,tax,/a,1,impression\n" +
				"s1,tax,/a,1,click\n",
			want: 2,
		},
		{
			name: "analytics export header with extra columns",
			input: "searchSessionId,searchTerm,originalSearchTerm,contentIdOrPath,rank,observationType\n" +
				"s1,self assess,Self Assessment,/b,2,impression\n",
			want: 1,
		},
		{
			name:  "header only",
			input: "session_id,search_term,document_id,rank,observation_type\n",
			want:  0,
		},
		{
			name:  "empty",
			input: "",
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCSV(strings.NewReader(tt.input), DefaultColumns)
			if err != nil {
				t.Fatalf("ReadCSV() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("ReadCSV() = %d observations, want %d", len(got), tt.want)
			}
		})
	}
}

func TestReadCSV_Fields(t *testing.T) {
	input := "searchSessionId,searchTerm,contentIdOrPath,rank,observationType\n" +
		"s9,passport,/renew,3, click\n"

	got, err := ReadCSV(strings.NewReader(input), DefaultColumns)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	want := session.Observation{SessionID: "s9", SearchTerm: "passport", DocumentID: "/renew", Rank: 3, Type: session.Click}
	if got[0] != want {
		t.Errorf("ReadCSV() = %+v, want %+v", got[0], want)
	}
}

func TestReadCSV_Errors(t *testing.T) {
	header := "session_id,search_term,document_id,rank,observation_type\n"
	tests := []struct {
		name  string
		input string
	}{
		{"missing column", "session_id,search_term,rank,observation_type\ns1,tax,1,click\n"},
		{"bad rank", header + "s1,tax,/a,first,click\n"},
		{"zero rank", header + "s1,tax,/a,0,click\n"},
		{"bad type", header + "s1,tax,/a,1,hover\n"},
		{"short row", header + "s1,tax\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.input), DefaultColumns); err == nil {
				t.Error("ReadCSV() should fail")
			}
		})
	}
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	data := "session_id,search_term,document_id,rank,observation_type\ns1,tax,/a,1,click\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := CSVSource{Path: path}.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Read() = %d observations, want 1", len(got))
	}

	_, err = CSVSource{Path: filepath.Join(t.TempDir(), "missing.csv")}.Read(context.Background())
	if !errors.HasCode(err, errors.CodeIngest) {
		t.Errorf("missing file error = %v, want INGEST_ERROR", err)
	}
}

func fixedOffsets(bounds map[int32][2]int64) OffsetFunc {
	return func(_ string, partition int32, at int64) (int64, error) {
		b := bounds[partition]
		if at == sarama.OffsetOldest {
			return b[0], nil
		}
		return b[1], nil
	}
}

func TestKafkaSource_ReadsToHighWaterMark(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"observations": {0, 1}})

	pc := consumer.ExpectConsumePartition("observations", 0, 0)
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"session_id":"s1","search_term":"tax","document_id":"/a","rank":1,"observation_type":"impression"}`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`not json`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"session_id":"s1","search_term":"tax","document_id":"/a","rank":1,"observation_type":"click"}`)})

	// Partition 1 is empty and must not be consumed.
	src := NewKafkaSourceFromConsumer(consumer, "observations", fixedOffsets(map[int32][2]int64{
		0: {0, 3},
		1: {5, 5},
	}), logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read() = %d observations, want 2", len(got))
	}
	if got[1].Type != session.Click {
		t.Errorf("second observation = %+v, want click", got[1])
	}
	if src.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", src.Skipped())
	}
}

func TestKafkaSource_StopsWhenPartitionIdle(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"observations": {0}})

	// Offsets 2-4 were compacted away, so the high-water mark is never reached.
	pc := consumer.ExpectConsumePartition("observations", 0, 0)
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"session_id":"s1","search_term":"tax","document_id":"/a","rank":1,"observation_type":"impression"}`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"session_id":"s1","search_term":"tax","document_id":"/a","rank":1,"observation_type":"click"}`)})

	src := NewKafkaSourceFromConsumer(consumer, "observations", fixedOffsets(map[int32][2]int64{
		0: {0, 5},
	}), logger.Discard())
	src.SetIdleTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Read() = %d observations, want 2", len(got))
	}
}

func TestKafkaSource_ContextCancelled(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"observations": {0}})
	consumer.ExpectConsumePartition("observations", 0, 0)

	src := NewKafkaSourceFromConsumer(consumer, "observations", fixedOffsets(map[int32][2]int64{
		0: {0, 10},
	}), logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := src.Read(ctx); err == nil {
		t.Error("Read() should stop when the context is done")
	}
}

func TestNewKafkaSource_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  KafkaConfig
	}{
		{"empty brokers", KafkaConfig{Topic: "observations"}},
		{"empty topic", KafkaConfig{Brokers: []string{"localhost:9092"}}},
		{"invalid version", KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "observations", Version: "invalid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKafkaSource(tt.cfg, logger.Discard()); !errors.IsValidation(err) {
				t.Errorf("NewKafkaSource() error = %v, want validation error", err)
			}
		})
	}
}

func TestParseKafkaBrokers(t *testing.T) {
	got := ParseKafkaBrokers("a:9092, b:9092")
	if len(got) != 2 || got[1] != "b:9092" {
		t.Errorf("ParseKafkaBrokers() = %v", got)
	}
	if ParseKafkaBrokers("") != nil {
		t.Error("empty broker list should be nil")
	}
}
