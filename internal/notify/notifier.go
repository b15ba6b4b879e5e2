package notify

import (
	"fmt"

	"github.com/containrrr/shoutrrr"
	"github.com/sirupsen/logrus"

	"github.com/sovereignstack/gatekeep/internal/logger"
	"github.com/sovereignstack/gatekeep/internal/models"
)

// Notifier pushes blacklist promotions to an external channel via a shoutrrr
// URL (discord://, telegram://, smtp://, ...). An empty URL disables it.
// Delivery is best effort and asynchronous; a slow webhook must never sit on
// the request path.
type Notifier struct {
	url string
}

func New(url string) *Notifier {
	return &Notifier{url: url}
}

// BlacklistPromoted announces that an IP crossed the threshold.
func (n *Notifier) BlacklistPromoted(entry *models.BlacklistEntry) {
	if n == nil || n.url == "" || entry == nil {
		return
	}

	msg := fmt.Sprintf(
		"Gatekeep blocked %s until %s (score %d, offense #%d)",
		entry.IP,
		entry.ExpiresAt.Format("2006-01-02 15:04 MST"),
		entry.CumulativeScore,
		entry.Offenses,
	)

	go func() {
		if err := shoutrrr.Send(n.url, msg); err != nil {
			logger.WithFields(logrus.Fields{"ip": entry.IP}).
				WithError(err).Warn("failed to send blacklist notification")
		}
	}()
}
