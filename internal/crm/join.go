package crm

import (
	"context"
	"errors"
	"iter"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// CustomerOrders joins every customer with its orders. One goroutine per
// customer fetches and collects its orders; pairs are yielded as those
// fetches complete, so the output order is completion order, not customer
// order.
//
// The first failing orders fetch ends the sequence with a *JoinError after
// cancelling all other fetches; pairs already yielded stay yielded. A
// failure listing customers ends the sequence with that error unchanged.
// Stopping the range, or cancelling ctx, cancels every outstanding fetch,
// and the iterator returns only once they have all exited.
func (c *Client) CustomerOrders(ctx context.Context) iter.Seq2[CustomerOrders, error] {
	return func(yield func(CustomerOrders, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var sem *semaphore.Weighted
		if c.joinLimit > 0 {
			sem = semaphore.NewWeighted(int64(c.joinLimit))
		}

		out := make(chan CustomerOrders)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			for cust, err := range c.Customers(gctx) {
				if err != nil {
					return err
				}
				if sem != nil {
					if err := sem.Acquire(gctx, 1); err != nil {
						return err
					}
				}
				g.Go(func() error {
					if sem != nil {
						defer sem.Release(1)
					}
					return c.join(gctx, cust, out)
				})
			}
			return nil
		})

		errc := make(chan error, 1)
		go func() {
			errc <- g.Wait()
			close(out)
		}()

		for pair := range out {
			if gctx.Err() != nil {
				// A fetch already failed; nothing more goes out before the error.
				continue
			}
			if !yield(pair, nil) {
				cancel()
				for range out {
				}
				<-errc
				return
			}
			c.metrics.pairEmitted()
		}

		if err := <-errc; err != nil {
			var joinErr *JoinError
			if errors.As(err, &joinErr) {
				c.metrics.joinFailed()
				c.logger.Warn("customer orders join failed", "error", err)
			}
			yield(CustomerOrders{}, err)
		}
	}
}

// join fetches one customer's orders and hands the pair to the consumer.
func (c *Client) join(ctx context.Context, cust Customer, out chan<- CustomerOrders) error {
	c.metrics.fetchStarted()
	orders, err := c.collectOrders(ctx, cust.ID)
	c.metrics.fetchDone()
	if err != nil {
		if ctx.Err() != nil {
			// Another fetch failed first or the consumer left; its error wins.
			return ctx.Err()
		}
		return &JoinError{CustomerID: cust.ID, Err: err}
	}
	select {
	case out <- CustomerOrders{Customer: cust, Orders: orders}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
