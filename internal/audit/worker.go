package audit

import "context"

// Worker drains the service inbox into the store. Persistence failures are
// logged and skipped; a broken audit sink must not take the server down.
type Worker struct {
	service *Service
}

func NewWorker(service *Service) *Worker {
	return &Worker{service: service}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.service.inbox:
			w.service.persist(ctx, event)
		}
	}
}

// drain flushes whatever is buffered at shutdown.
func (w *Worker) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-w.service.inbox:
			w.service.persist(ctx, event)
		default:
			return
		}
	}
}
