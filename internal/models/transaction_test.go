package models

import (
	"reflect"
	"testing"
	"time"
)

func TestIsValidDepositTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{RentalSubStatusActive, RentalSubStatusReturned, true},
		{RentalSubStatusActive, RentalSubStatusDepositReleased, true},
		{RentalSubStatusActive, RentalSubStatusDepositCaptured, true},
		{RentalSubStatusReturned, RentalSubStatusDepositReleased, true},
		{RentalSubStatusReturned, RentalSubStatusDepositCaptured, true},

		// Terminal values never move
		{RentalSubStatusDepositReleased, RentalSubStatusDepositCaptured, false},
		{RentalSubStatusDepositCaptured, RentalSubStatusDepositReleased, false},
		{RentalSubStatusDepositReleased, RentalSubStatusActive, false},
		{RentalSubStatusReturned, RentalSubStatusActive, false},
		{"", RentalSubStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidDepositTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidDepositTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestIsValidTransactionTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{TransactionStatusPaid, TransactionStatusShipped, true},
		{TransactionStatusShipped, TransactionStatusDelivered, true},
		{TransactionStatusDelivered, TransactionStatusCompleted, true},
		{TransactionStatusPaid, TransactionStatusCanceled, true},
		{TransactionStatusShipped, TransactionStatusFailed, true},

		{TransactionStatusCompleted, TransactionStatusCanceled, false},
		{TransactionStatusCanceled, TransactionStatusPaid, false},
		{TransactionStatusDelivered, TransactionStatusShipped, false},
		{TransactionStatusDelivered, TransactionStatusCanceled, false},
		{"nonexistent", TransactionStatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransactionTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransactionTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalTransactionStatusesHaveNoTransitions(t *testing.T) {
	for _, status := range []string{TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCanceled} {
		if n := len(ValidTransactionTransitions[status]); n != 0 {
			t.Errorf("terminal status %q should have no transitions, got %d", status, n)
		}
	}
	for _, status := range []string{RentalSubStatusDepositReleased, RentalSubStatusDepositCaptured} {
		if !IsTerminalDeposit(status) {
			t.Errorf("%q should be terminal", status)
		}
		if n := len(ValidDepositTransitions[status]); n != 0 {
			t.Errorf("terminal deposit status %q should have no transitions, got %d", status, n)
		}
	}
}

func TestDepositSourcesFor(t *testing.T) {
	got := DepositSourcesFor(RentalSubStatusDepositCaptured)
	want := []string{RentalSubStatusActive, RentalSubStatusReturned}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DepositSourcesFor(captured) = %v, want %v", got, want)
	}

	got = DepositSourcesFor(RentalSubStatusReturned)
	want = []string{RentalSubStatusActive}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DepositSourcesFor(returned) = %v, want %v", got, want)
	}
}

func TestDepositOverdue(t *testing.T) {
	day0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day := func(n int) time.Time { return day0.AddDate(0, 0, n) }

	tests := []struct {
		name     string
		now      time.Time
		expected bool
	}{
		{"within rental", day(5), false},
		{"inside grace", day(9), false},
		{"exactly at deadline", day(10), false},
		{"one second past deadline", day(10).Add(time.Second), true},
		{"day 11", day(11), true},
		{"a week later", day(17), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DepositOverdue(day0, 7, 3, tt.now); got != tt.expected {
				t.Errorf("DepositOverdue(day0, 7, 3, %v) = %v, want %v", tt.now, got, tt.expected)
			}
		})
	}
}
