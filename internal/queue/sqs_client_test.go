package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type fakeSender struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSender) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSClientSendStandardQueue(t *testing.T) {
	fake := &fakeSender{}
	c := &SQSClient{client: fake, queueURL: "https://sqs.local/123/runs"}
	if err := c.Send(context.Background(), Message{RunID: "run-1", RequestID: "req-1", Version: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	in := fake.inputs[0]
	if aws.ToString(in.QueueUrl) != "https://sqs.local/123/runs" {
		t.Fatalf("unexpected queue url %s", aws.ToString(in.QueueUrl))
	}
	if in.MessageGroupId != nil {
		t.Fatalf("group id must be unset for standard queues")
	}
	if aws.ToString(in.MessageBody) == "" {
		t.Fatalf("empty body")
	}
}

func TestSQSClientSendFIFOQueue(t *testing.T) {
	fake := &fakeSender{}
	c := &SQSClient{client: fake, queueURL: "https://sqs.local/123/runs.fifo"}
	if err := c.Send(context.Background(), Message{RunID: "run-1", RequestID: "req-1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	in := fake.inputs[0]
	if aws.ToString(in.MessageGroupId) != "run-1" || aws.ToString(in.MessageDeduplicationId) != "run-1:req-1" {
		t.Fatalf("unexpected fifo attributes %+v", in)
	}
}

func TestSQSClientSendError(t *testing.T) {
	boom := errors.New("throttled")
	c := &SQSClient{client: &fakeSender{err: boom}, queueURL: "q"}
	if err := c.Send(context.Background(), Message{RunID: "run-1"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewSQSClientRequiresURL(t *testing.T) {
	if _, err := NewSQSClient(context.Background(), " ", ""); err == nil {
		t.Fatalf("expected error for empty queue url")
	}
}
