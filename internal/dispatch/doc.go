// Package dispatch runs the recurring announcement loop.
//
// Each tick first relays every pending order to all recipients and marks it
// notified, then polls the catalog feed for appended rows, reconciles each
// one into the product store and announces it. The Scheduler owns the feed
// watermark: it only moves forward, and a startup sync sets it to the feed
// length so existing rows are never announced.
//
// Ticks never overlap. The cron trigger skips a firing while the previous
// one still runs, and Tick itself refuses to start while another Tick is in
// progress.
package dispatch
