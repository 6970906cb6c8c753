package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-tilroy/pkg/singer"
)

func TestKafkaSinkBatchesUntilFlush(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	var keys []string
	checker := func(key string) mocks.MessageChecker {
		return func(msg *sarama.ProducerMessage) error {
			k, err := msg.Key.Encode()
			if err != nil {
				return err
			}
			keys = append(keys, string(k))
			if string(k) != key {
				return errors.New("unexpected key " + string(k))
			}
			return nil
		}
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker("sales"))
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker("sales"))
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker(stateKey))

	s := NewKafkaSinkWithProducer(producer, "tilroy", nil)
	require.NoError(t, s.Emit(singer.NewRecord("sales", map[string]interface{}{"idTenant": "1"}, time.Time{})))
	require.NoError(t, s.Emit(singer.NewRecord("sales", map[string]interface{}{"idTenant": "2"}, time.Time{})))
	assert.Zero(t, s.Sent())

	require.NoError(t, s.Flush())
	assert.Equal(t, int64(2), s.Sent())

	require.NoError(t, s.Emit(singer.NewState(map[string]interface{}{"version": 2})))
	require.NoError(t, s.Close())
	assert.Equal(t, int64(3), s.Sent())
	assert.Equal(t, []string{"sales", "sales", stateKey}, keys)
}

func TestKafkaSinkFlushFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := NewKafkaSinkWithProducer(producer, "tilroy", nil)
	require.NoError(t, s.Emit(singer.NewRecord("shops", map[string]interface{}{"tilroyId": 1}, time.Time{})))

	err := s.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Zero(t, s.Sent())
	_ = producer.Close()
}

func TestBuildSaramaConfig(t *testing.T) {
	cfg := buildSaramaConfig(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "zstd"})
	assert.Equal(t, sarama.CompressionZSTD, cfg.Producer.Compression)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Return.Successes)
	require.NoError(t, cfg.Validate())
}
