package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"thesis-backend/internal/bootstrap"
	"thesis-backend/internal/shared/config"
)

var (
	initOnce sync.Once
	initErr  error
	invoker  *runInvoker
)

// runInvoker proxies API Gateway requests to the router. Without a queue,
// review submissions and advances drive runs in background goroutines, and
// Lambda freezes the sandbox once the handler returns, so those drives are
// finished inside the invocation that started them.
type runInvoker struct {
	app   *bootstrap.App
	proxy *ginadapter.GinLambdaV2
}

func newRunInvoker(app *bootstrap.App) *runInvoker {
	cfg := app.Config
	log.Printf("lambda-http: checkpoints=%s llm=%s retrieval=%s queue=%t",
		cfg.CheckpointStore, cfg.LLMProvider, cfg.RetrievalBackend, app.Queue != nil)
	if app.Queue == nil {
		log.Printf("lambda-http: TH_SQS_QUEUE_URL empty; run drives complete before each response")
	}
	return &runInvoker{app: app, proxy: ginadapter.NewV2(app.Router)}
}

func (i *runInvoker) handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	resp, err := i.proxy.ProxyWithContext(ctx, req)
	if i.app.Queue == nil && i.app.Runs != nil {
		i.app.Runs.Wait()
	}
	return resp, err
}

func initApp() {
	cfg := config.Load()
	app, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	invoker = newRunInvoker(app)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		body, _ := json.Marshal(map[string]string{"error": "bootstrap failed"})
		return events.APIGatewayV2HTTPResponse{
			StatusCode: 500,
			Body:       string(body),
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, initErr
	}
	if invoker == nil {
		return events.APIGatewayV2HTTPResponse{
			StatusCode: 500,
			Body:       `{"error":"router not initialized"}`,
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, nil
	}
	return invoker.handle(ctx, req)
}

func main() {
	lambda.Start(handler)
}
