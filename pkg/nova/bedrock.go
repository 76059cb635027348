package nova

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

// BedrockClient abstracts the Bedrock Runtime operation used by
// [BedrockOpener]. The [bedrockruntime.Client] type satisfies this
// interface.
type BedrockClient interface {
	InvokeModelWithBidirectionalStream(ctx context.Context, params *bedrockruntime.InvokeModelWithBidirectionalStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithBidirectionalStreamOutput, error)
}

// BedrockOpener opens bidirectional streaming sessions against Amazon
// Bedrock. The client must be pre-configured with credentials and region.
type BedrockOpener struct {
	client BedrockClient
}

// NewBedrockOpener builds an opener from the ambient AWS configuration
// (environment, shared config, instance role) for the given region.
func NewBedrockOpener(ctx context.Context, region string) (*BedrockOpener, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockOpener{client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

// NewBedrockOpenerWithClient wires a caller-supplied client; any type
// satisfying [BedrockClient] is accepted.
func NewBedrockOpenerWithClient(client BedrockClient) *BedrockOpener {
	return &BedrockOpener{client: client}
}

func (o *BedrockOpener) Open(ctx context.Context, modelID string) (Stream, error) {
	out, err := o.client.InvokeModelWithBidirectionalStream(ctx, &bedrockruntime.InvokeModelWithBidirectionalStreamInput{
		ModelId: aws.String(modelID),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke bidirectional stream for %s: %w", modelID, err)
	}
	return &bedrockStream{es: out.GetStream()}, nil
}

type bedrockStream struct {
	es *bedrockruntime.InvokeModelWithBidirectionalStreamEventStream
}

func (s *bedrockStream) Send(ctx context.Context, payload []byte) error {
	return s.es.Send(ctx, &brtypes.InvokeModelWithBidirectionalStreamInputMemberChunk{
		Value: brtypes.BidirectionalInputPayloadPart{Bytes: payload},
	})
}

// Receive blocks until the model produces the next payload part. Frames
// with no payload bytes are skipped. Returns io.EOF once the upstream
// closes the stream cleanly.
func (s *bedrockStream) Receive(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-s.es.Events():
			if !ok {
				if err := s.es.Err(); err != nil {
					return nil, err
				}
				return nil, io.EOF
			}
			chunk, ok := ev.(*brtypes.InvokeModelWithBidirectionalStreamOutputMemberChunk)
			if !ok || len(chunk.Value.Bytes) == 0 {
				continue
			}
			return chunk.Value.Bytes, nil
		}
	}
}

func (s *bedrockStream) Close() error {
	return s.es.Close()
}

// APIErrorCode extracts the service error code from a Bedrock failure,
// or "" when the error did not come from the service.
func APIErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}
