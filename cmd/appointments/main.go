package main

import (
	apptshandler "medibook/internal/appointments/handler"
	"medibook/internal/appointments/notifier"
	apptsrepo "medibook/internal/appointments/repository"
	apptsservice "medibook/internal/appointments/service"
	"medibook/internal/appointments/sweeper"
	apptsvalidator "medibook/internal/appointments/validator"
	doctorshandler "medibook/internal/doctors/handler"
	doctorsrepo "medibook/internal/doctors/repository"
	doctorsservice "medibook/internal/doctors/service"
	"medibook/pkg/app"
	"medibook/pkg/config"
)

const ServiceName = "appointments"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	cfg.SetRedis()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting Appointments service")

	appointmentRepo := apptsrepo.NewMongoAppointmentRepository(cfg)
	lockRepo := apptsrepo.NewSlotLockRepository(cfg)
	appointmentValidator := apptsvalidator.NewAppointmentValidator(cfg.Log)
	notif := initNotifier(cfg)
	defer func() {
		if err := notif.Close(); err != nil {
			cfg.Log.Error("Failed to close notifier", "error", err)
		}
	}()

	appointmentService := apptsservice.NewAppointmentService(
		appointmentRepo,
		lockRepo,
		appointmentValidator,
		notif,
		cfg,
	)

	doctorRepo := doctorsrepo.NewMongoDoctorRepository(cfg)
	slotService := doctorsservice.NewSlotService(doctorRepo, appointmentRepo, cfg)

	expirySweeper := sweeper.New(appointmentService, cfg.SweepInterval, cfg.Log)
	expirySweeper.Start()

	serverApp := app.NewApplication(cfg)
	serverApp.AddWorker(expirySweeper)
	serverApp.SetApp(
		apptshandler.NewAppointmentHandler(appointmentService, cfg.Log),
		doctorshandler.NewDoctorHandler(slotService, cfg.Log),
	)
	serverApp.Run()
}

// initNotifier wires Kafka when brokers are configured and falls back
// to log-only delivery otherwise, so local runs need no broker.
func initNotifier(cfg *config.Config) notifier.Notifier {
	if len(cfg.KafkaBrokers) == 0 {
		cfg.Log.Info("No Kafka brokers configured, using log notifier")
		return notifier.NewLogNotifier(cfg.Log)
	}

	kafkaNotifier, err := notifier.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaOTPTopic)
	if err != nil {
		cfg.Log.Error("Failed to initialize Kafka notifier, falling back to log notifier", "error", err)
		return notifier.NewLogNotifier(cfg.Log)
	}

	cfg.Log.Info("Kafka notifier initialized", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaOTPTopic)
	return kafkaNotifier
}
