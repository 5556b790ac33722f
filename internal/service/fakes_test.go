package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fixflow/backend/internal/models"
)

type fakeAppointmentStore struct {
	mu           sync.Mutex
	appointments map[string]models.Appointment
	// updateFailures injects transient errors: each UpdateAppointment
	// call consumes one entry before touching state.
	updateFailures []error
}

func newFakeAppointmentStore(appts ...models.Appointment) *fakeAppointmentStore {
	s := &fakeAppointmentStore{appointments: map[string]models.Appointment{}}
	for _, a := range appts {
		if a.Version == 0 {
			a.Version = 1
		}
		s.appointments[a.ID] = a
	}
	return s
}

func (s *fakeAppointmentStore) GetAppointment(_ context.Context, id string) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return models.Appointment{}, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	return a, nil
}

func (s *fakeAppointmentStore) UpdateAppointment(_ context.Context, a models.Appointment) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updateFailures) > 0 {
		err := s.updateFailures[0]
		s.updateFailures = s.updateFailures[1:]
		return models.Appointment{}, err
	}
	stored, ok := s.appointments[a.ID]
	if !ok {
		return models.Appointment{}, fmt.Errorf("%w: appointment %s", ErrNotFound, a.ID)
	}
	if stored.Version != a.Version {
		return models.Appointment{}, fmt.Errorf("%w: appointment %s at version %d", ErrConcurrentModification, a.ID, a.Version)
	}
	a.Version++
	s.appointments[a.ID] = a
	return a, nil
}

// set overwrites the stored row directly, bypassing the version check.
// Tests use it to simulate a concurrent actor.
func (s *fakeAppointmentStore) set(a models.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = a
}

type fakeDeviceStore struct {
	mu      sync.Mutex
	devices map[string]models.CustomerDevice
	nextID  int
	creates int
	updates int
	failAll bool
}

func newFakeDeviceStore(devices ...models.CustomerDevice) *fakeDeviceStore {
	s := &fakeDeviceStore{devices: map[string]models.CustomerDevice{}}
	for _, d := range devices {
		if d.Version == 0 {
			d.Version = 1
		}
		s.devices[d.ID] = d
	}
	return s
}

var errFakeStore = errors.New("store unavailable")

func (s *fakeDeviceStore) GetCustomerDevice(_ context.Context, id string) (models.CustomerDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return models.CustomerDevice{}, errFakeStore
	}
	d, ok := s.devices[id]
	if !ok {
		return models.CustomerDevice{}, fmt.Errorf("%w: customer device %s", ErrNotFound, id)
	}
	return d, nil
}

func (s *fakeDeviceStore) FindCustomerDevice(_ context.Context, customerID, deviceID, serialNumber string) (models.CustomerDevice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return models.CustomerDevice{}, false, errFakeStore
	}
	for _, d := range s.devices {
		if d.CustomerID == customerID && d.DeviceID == deviceID && d.SerialNumber == serialNumber {
			return d, true, nil
		}
	}
	return models.CustomerDevice{}, false, nil
}

func (s *fakeDeviceStore) CreateCustomerDevice(_ context.Context, d models.CustomerDevice) (models.CustomerDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return models.CustomerDevice{}, errFakeStore
	}
	s.nextID++
	s.creates++
	d.ID = fmt.Sprintf("cd-%d", s.nextID)
	d.Active = true
	d.Version = 1
	s.devices[d.ID] = d
	return d, nil
}

func (s *fakeDeviceStore) UpdateCustomerDevice(_ context.Context, d models.CustomerDevice) (models.CustomerDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return models.CustomerDevice{}, errFakeStore
	}
	if _, ok := s.devices[d.ID]; !ok {
		return models.CustomerDevice{}, fmt.Errorf("%w: customer device %s", ErrNotFound, d.ID)
	}
	s.updates++
	d.Version++
	s.devices[d.ID] = d
	return d, nil
}

type fakeTicketStore struct {
	mu      sync.Mutex
	tickets map[string]models.RepairTicket
	nextID  int
	// onCreate runs after a ticket is stored, before CreateRepairTicket
	// returns. Tests hook it to simulate a concurrent conversion.
	onCreate func()
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{tickets: map[string]models.RepairTicket{}}
}

func (s *fakeTicketStore) GetRepairTicket(_ context.Context, id string) (models.RepairTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return models.RepairTicket{}, fmt.Errorf("%w: ticket %s", ErrNotFound, id)
	}
	return t, nil
}

func (s *fakeTicketStore) CreateRepairTicket(_ context.Context, t models.RepairTicket) (models.RepairTicket, error) {
	s.mu.Lock()
	s.nextID++
	t.ID = fmt.Sprintf("tick-%d", s.nextID)
	t.TicketNumber = fmt.Sprintf("TCK-%06d", s.nextID)
	s.tickets[t.ID] = t
	hook := s.onCreate
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return t, nil
}

func (s *fakeTicketStore) FindTicketByAppointment(_ context.Context, appointmentID string) (models.RepairTicket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.CreatedFromAppointmentID != nil && *t.CreatedFromAppointmentID == appointmentID {
			return t, true, nil
		}
	}
	return models.RepairTicket{}, false, nil
}

func (s *fakeTicketStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

type fakeCatalog struct {
	services map[string]models.Service
}

func newFakeCatalog(services ...models.Service) *fakeCatalog {
	c := &fakeCatalog{services: map[string]models.Service{}}
	for _, svc := range services {
		c.services[svc.ID] = svc
	}
	return c
}

func (c *fakeCatalog) GetServices(_ context.Context, ids []string) ([]models.Service, error) {
	var out []models.Service
	for _, id := range ids {
		if svc, ok := c.services[id]; ok {
			out = append(out, svc)
		}
	}
	return out, nil
}

func strPtr(v string) *string { return &v }
